// Package jobs runs catalog translation jobs in the background and tracks
// their progress in scratch storage.
package jobs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minios-linux/pomt/atomicfile"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job manager is closed")
	// ErrNotFound is returned for unknown jobs and missing artifacts.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidID is returned for malformed job identifiers.
	ErrInvalidID = errors.New("invalid job identifier")
)

const idLen = 32

// NewID returns a fresh job identifier: a random UUID as 32 lowercase hex
// characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id has the shape produced by NewID. Identifiers
// are used as file names, so anything else is rejected.
func ValidID(id string) bool {
	if len(id) != idLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Workspace is the scratch directory layout:
//
//	uploads/<id>.po
//	translated/<id>_translated.po
//	translated/<id>_translated.mo
//	progress/<id>.json
type Workspace struct {
	Root string
}

func (w Workspace) uploadsDir() string    { return filepath.Join(w.Root, "uploads") }
func (w Workspace) translatedDir() string { return filepath.Join(w.Root, "translated") }
func (w Workspace) progressDir() string   { return filepath.Join(w.Root, "progress") }

// UploadPath is where the submitted catalog is stored.
func (w Workspace) UploadPath(id string) string {
	return filepath.Join(w.uploadsDir(), id+".po")
}

// OutputPath is where the translated catalog is written.
func (w Workspace) OutputPath(id string) string {
	return filepath.Join(w.translatedDir(), id+"_translated.po")
}

// MOPath is where the compiled catalog is cached.
func (w Workspace) MOPath(id string) string {
	return filepath.Join(w.translatedDir(), id+"_translated.mo")
}

// ProgressPath is where the progress record lives.
func (w Workspace) ProgressPath(id string) string {
	return filepath.Join(w.progressDir(), id+".json")
}

// Prepare creates the scratch directories.
func (w Workspace) Prepare() error {
	for _, dir := range []string{w.uploadsDir(), w.translatedDir(), w.progressDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("preparing workspace: %w", err)
		}
	}
	return nil
}

// SaveUpload stores the uploaded catalog for id.
func (w Workspace) SaveUpload(id string, r io.Reader) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	return atomicfile.Write(w.UploadPath(id), 0o644, func(dst io.Writer) error {
		_, err := io.Copy(dst, r)
		return err
	})
}

// HasOutput reports whether the translated catalog for id exists.
func (w Workspace) HasOutput(id string) bool {
	if !ValidID(id) {
		return false
	}
	info, err := os.Stat(w.OutputPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Sweep removes artifacts last modified before cutoff. Jobs for which keep
// returns true are left alone. It returns the number of files removed.
func (w Workspace) Sweep(cutoff time.Time, keep func(id string) bool) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range []string{w.uploadsDir(), w.translatedDir(), w.progressDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || len(name) < idLen || !ValidID(name[:idLen]) {
				continue
			}
			if keep != nil && keep(name[:idLen]) {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
