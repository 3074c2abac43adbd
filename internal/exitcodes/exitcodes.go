// Package exitcodes defines the exit codes used by gridrunner.
package exitcodes

// * Success (0): every worker exited cleanly
// * TestFailure (1): at least one worker failed
// * RuntimeErr (1): the run was aborted before or outside dispatch
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 1
)
