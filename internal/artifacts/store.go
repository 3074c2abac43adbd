package artifacts

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// SummaryFile is the name of the summary document inside every archive
const SummaryFile = "summary.json"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store persists run artifacts as tar.gz archives
type Store struct {
	storePath string
	log       *slog.Logger
}

// NewStore creates a store rooted at storePath
func NewStore(storePath string, logger *slog.Logger) (*Store, error) {
	if storePath == "" {
		return nil, fmt.Errorf("artifacts directory is required")
	}
	if err := os.MkdirAll(storePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storePath: storePath,
		log:       logger.With("component", "artifacts"),
	}, nil
}

// ArchivePath returns where the archive of runID is written
func (s *Store) ArchivePath(runID string) string {
	return filepath.Join(s.storePath, fmt.Sprintf("run-%s.tar.gz", runID))
}

// WorkerFileName names the payload entry of one worker
func WorkerFileName(o models.WorkerOutcome) string {
	browser := unsafeNameChars.ReplaceAllString(o.Browser, "_")
	if browser == "" {
		browser = "default"
	}
	return fmt.Sprintf("worker-%d-%s.out", o.Index, browser)
}

// Save writes summary.json and one payload file per worker into
// run-<id>.tar.gz and returns the archive path
func (s *Store) Save(summary *models.RunSummary) (string, error) {
	staging, err := os.MkdirTemp("", "gridrunner-artifacts-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, SummaryFile), data, 0644); err != nil {
		return "", err
	}

	for _, o := range summary.Outcomes {
		if len(o.Payload) == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(staging, WorkerFileName(o)), o.Payload, 0644); err != nil {
			return "", err
		}
	}

	archivePath := s.ArchivePath(summary.RunID)
	if err := compressDirectory(staging, archivePath); err != nil {
		return "", fmt.Errorf("failed to write run archive: %w", err)
	}

	s.log.Info("Saved run artifacts", "path", archivePath, "workers", len(summary.Outcomes))
	return archivePath, nil
}

// Extract unpacks an archive written by Save into target
func (s *Store) Extract(archivePath, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := extractDirectory(archivePath, target); err != nil {
		return fmt.Errorf("failed to extract run archive: %w", err)
	}
	return nil
}

// LoadSummary reads the summary back out of an archive and reattaches each
// worker's payload
func (s *Store) LoadSummary(archivePath string) (*models.RunSummary, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()

	var summary *models.RunSummary
	payloads := map[string][]byte{}

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if header.Name == SummaryFile {
			summary = &models.RunSummary{}
			if err := json.NewDecoder(tarReader).Decode(summary); err != nil {
				return nil, fmt.Errorf("failed to decode summary: %w", err)
			}
			continue
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		payloads[header.Name] = data
	}

	if summary == nil {
		return nil, fmt.Errorf("%s not found in %s", SummaryFile, archivePath)
	}
	for i, o := range summary.Outcomes {
		summary.Outcomes[i].Payload = payloads[WorkerFileName(o)]
	}
	return summary, nil
}

// compressDirectory creates a tar.gz archive of a directory
func compressDirectory(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == source {
			return nil
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tarWriter, f)
		return err
	})
}

// extractDirectory extracts a tar.gz archive to a directory
func extractDirectory(source, target string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	root := filepath.Clean(target) + string(os.PathSeparator)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(target, header.Name)
		if !strings.HasPrefix(targetPath, root) {
			return fmt.Errorf("archive entry %q escapes target directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}

			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}
}
