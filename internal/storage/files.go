package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHash reports whether hash is a lowercase hex SHA-256 digest.
func ValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// FileManager owns the on-disk layout for generated artifacts.
type FileManager struct {
	baseDir   string
	reportDir string
}

func NewFileManager(baseDir string) (*FileManager, error) {
	fm := &FileManager{
		baseDir:   baseDir,
		reportDir: filepath.Join(baseDir, "reports"),
	}

	dirs := []string{fm.baseDir, fm.reportDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

// ReportPath returns where the PDF report for hash lives. Only well-formed
// hashes are accepted so a path parameter can never escape the report dir.
func (fm *FileManager) ReportPath(hash string) (string, error) {
	if !ValidHash(hash) {
		return "", fmt.Errorf("invalid transcript hash %q", hash)
	}
	return filepath.Join(fm.reportDir, hash+".pdf"), nil
}

func (fm *FileManager) ReportExists(hash string) bool {
	path, err := fm.ReportPath(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// RemoveReport deletes a generated report; a missing file is not an error.
func (fm *FileManager) RemoveReport(hash string) error {
	path, err := fm.ReportPath(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove report: %w", err)
	}
	return nil
}
