package models

import (
	"strconv"
)

// Environment variable names a worker's test command reads its configuration from
const (
	EnvDriverName         = "BS_DRIVER_NAME"
	EnvSeleniumBrowser    = "SELENIUM_BROWSER"
	EnvSeleniumVersion    = "SELENIUM_VERSION"
	EnvOS                 = "BS_AUTOMATE_OS"
	EnvOSVersion          = "BS_AUTOMATE_OS_VERSION"
	EnvResolution         = "BS_AUTOMATE_RESOLUTION"
	EnvRequireWindowFocus = "BS_AUTOMATE_REQUIREWINDOWFOCUS"
	EnvPlatform           = "BS_AUTOMATE_PLATFORM"
	EnvDevice             = "BS_AUTOMATE_DEVICE"
	EnvDeviceOrientation  = "BS_AUTOMATE_DEVICEORIENTATION"
	EnvBrowserName        = "BS_BROWSERNAME"
	EnvRealMobile         = "BS_REALMOBILE"
	EnvAppServerPort      = "APP_SERVER_PORT"
	EnvSeleniumRemoteURL  = "SELENIUM_REMOTE_URL"
	EnvRunID              = "GRIDRUNNER_RUN_ID"
	EnvWorkerIndex        = "GRIDRUNNER_WORKER_INDEX"
	EnvResultPath         = "GRIDRUNNER_RESULT_PATH"
)

// WorkerConfig is the immutable configuration handed to exactly one worker.
// It is rendered into that worker's process environment and nowhere else.
type WorkerConfig struct {
	RunID             string
	Index             int
	DriverName        string
	Browser           string
	BrowserVersion    string
	OS                string
	OSVersion         string
	Resolution        string
	RequireFocus      string
	Platform          string
	Device            string
	DeviceOrientation string
	BrowserName       string
	RealMobile        string
	AppServerPort     int
	RemoteURL         string
	ResultPath        string
}

// NewWorkerConfig derives a worker's configuration from its work item
func NewWorkerConfig(runID string, item WorkItem, remoteURL string) WorkerConfig {
	b := item.Browser
	return WorkerConfig{
		RunID:             runID,
		Index:             item.Index,
		DriverName:        b.Name,
		Browser:           b.Cap("browser"),
		BrowserVersion:    b.Cap("browser_version"),
		OS:                b.Cap("os"),
		OSVersion:         b.Cap("os_version"),
		Resolution:        b.Cap("resolution"),
		RequireFocus:      b.Cap("requireWindowFocus"),
		Platform:          b.Cap("platform"),
		Device:            b.Cap("device"),
		DeviceOrientation: b.Cap("deviceOrientation"),
		BrowserName:       b.Cap("browserName"),
		RealMobile:        b.Cap("realMobile"),
		AppServerPort:     item.AssignedPort,
		RemoteURL:         remoteURL,
	}
}

// Env renders the configuration as KEY=value pairs
func (c WorkerConfig) Env() []string {
	return []string{
		EnvDriverName + "=" + c.DriverName,
		EnvSeleniumBrowser + "=" + c.Browser,
		EnvSeleniumVersion + "=" + c.BrowserVersion,
		EnvOS + "=" + c.OS,
		EnvOSVersion + "=" + c.OSVersion,
		EnvResolution + "=" + c.Resolution,
		EnvRequireWindowFocus + "=" + c.RequireFocus,
		EnvPlatform + "=" + c.Platform,
		EnvDevice + "=" + c.Device,
		EnvDeviceOrientation + "=" + c.DeviceOrientation,
		EnvBrowserName + "=" + c.BrowserName,
		EnvRealMobile + "=" + c.RealMobile,
		EnvAppServerPort + "=" + strconv.Itoa(c.AppServerPort),
		EnvSeleniumRemoteURL + "=" + c.RemoteURL,
		EnvRunID + "=" + c.RunID,
		EnvWorkerIndex + "=" + strconv.Itoa(c.Index),
		EnvResultPath + "=" + c.ResultPath,
	}
}
