// Package logging provides structured logging with slog for expandd.
package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rotator is an io.Writer that rotates the underlying log file by size
// and by day, compresses rotated files, and prunes old ones.
type Rotator struct {
	path       string
	maxSizeMB  int64
	maxAgeDays int
	maxBackups int
	compress   bool

	mu       sync.Mutex
	file     *os.File
	size     int64
	lastTime time.Time
}

// NewRotator creates a Rotator writing to path.
func NewRotator(path string, maxSizeMB int64, maxAgeDays, maxBackups int, compress bool) (*Rotator, error) {
	r := &Rotator{
		path:       path,
		maxSizeMB:  maxSizeMB,
		maxAgeDays: maxAgeDays,
		maxBackups: maxBackups,
		compress:   compress,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// openFile opens or creates the log file.
func (r *Rotator) openFile() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	r.lastTime = time.Now()
	return nil
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// shouldRotate checks if the log file should be rotated.
func (r *Rotator) shouldRotate(writeSize int64) bool {
	if r.size+writeSize > r.maxSizeMB*1024*1024 {
		return true
	}
	// Daily rotation
	return r.lastTime.Day() != time.Now().Day()
}

// rotate renames the current file aside and opens a fresh one.
func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	rotatedPath := filepath.Join(filepath.Dir(r.path), fmt.Sprintf("%s-%s%s", name, timestamp, ext))

	if err := os.Rename(r.path, rotatedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.compress {
		go r.compressFile(rotatedPath)
	}

	if err := r.openFile(); err != nil {
		return err
	}

	go r.cleanup()
	return nil
}

// compressFile compresses a rotated log file with gzip.
func (r *Rotator) compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}

	// Remove original after successful compression
	os.Remove(path)
}

// cleanup removes rotated files beyond the backup count or age limit.
func (r *Rotator) cleanup() {
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	pattern := filepath.Join(filepath.Dir(r.path), name+"-*"+ext+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: match, modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	if len(files) > r.maxBackups {
		for i := 0; i < len(files)-r.maxBackups; i++ {
			os.Remove(files[i].path)
		}
	}

	cutoff := time.Now().AddDate(0, 0, -r.maxAgeDays)
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			os.Remove(f.path)
		}
	}
}

// Close closes the rotator and its underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes any buffered data to the file.
func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
