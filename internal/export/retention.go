package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/metrics"
)

// File is an export found on disk.
type File struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	Age     time.Duration
}

func isExportFile(name string) bool {
	if !strings.HasPrefix(name, filePrefix) {
		return false
	}
	ext := filepath.Ext(name)
	return ext == FormatCSV.Extension() || ext == FormatPDF.Extension()
}

// List returns the export files in dir, oldest first. A missing directory
// holds no exports.
func List(dir string, now time.Time) ([]File, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []File{}, nil
		}
		return nil, fmt.Errorf("list exports: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isExportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		files = append(files, File{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Age:     now.Sub(info.ModTime()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })
	return files, nil
}

// Cleanup removes export files older than retention. With dryRun the
// candidates are only reported.
func Cleanup(dir string, retention time.Duration, now time.Time, dryRun bool) ([]File, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	files, err := List(dir, now)
	if err != nil {
		return nil, err
	}

	deleted := []File{}
	for _, f := range files {
		if f.Age <= retention {
			continue
		}
		if !dryRun {
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return deleted, fmt.Errorf("delete %s: %w", f.Name, err)
			}
			metrics.ExportFilesDeleted.Inc()
		}
		deleted = append(deleted, f)
	}
	return deleted, nil
}
