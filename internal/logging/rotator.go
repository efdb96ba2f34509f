package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CompressedExt is appended to compressed rotated logs.
const CompressedExt = ".zst"

// FileRotator handles log file rotation by size and by day.
type FileRotator struct {
	config   *Config
	mu       sync.Mutex
	file     *os.File
	size     int64
	lastTime time.Time
	wg       sync.WaitGroup
}

// NewFileRotator creates a new FileRotator.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		config: cfg,
	}

	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	if err := r.openFile(); err != nil {
		return nil, err
	}

	return r, nil
}

// ensureDir creates the log directory if it doesn't exist.
func (r *FileRotator) ensureDir() error {
	dir := filepath.Dir(r.config.FilePath)
	return os.MkdirAll(dir, 0750)
}

// openFile opens or creates the log file.
func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
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
func (r *FileRotator) Write(p []byte) (n int, err error) {
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
func (r *FileRotator) shouldRotate(writeSize int64) bool {
	maxBytes := r.config.MaxSize * 1024 * 1024
	if maxBytes > 0 && r.size+writeSize > maxBytes {
		return true
	}

	now := time.Now()
	if r.lastTime.Day() != now.Day() {
		return true
	}

	return false
}

// Rotate forces a rotation, e.g. on SIGHUP.
func (r *FileRotator) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}

// rotate performs the log rotation. Compression and cleanup of the old
// file run in the background; Close waits for them.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102-150405.000")
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	dir := filepath.Dir(r.config.FilePath)

	rotatedName := fmt.Sprintf("%s-%s%s", name, timestamp, ext)
	rotatedPath := filepath.Join(dir, rotatedName)

	if err := os.Rename(r.config.FilePath, rotatedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if err := r.openFile(); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.config.Compress {
			_ = compressFile(rotatedPath)
		}
		r.cleanup()
	}()

	return nil
}

// compressFile compresses a rotated log with zstd and removes the original.
func compressFile(path string) error {
	input, err := os.Open(path)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.OpenFile(path+CompressedExt, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(output, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		output.Close()
		os.Remove(path + CompressedExt)
		return err
	}

	if _, err := io.Copy(enc, input); err != nil {
		enc.Close()
		output.Close()
		os.Remove(path + CompressedExt)
		return err
	}
	if err := enc.Close(); err != nil {
		output.Close()
		os.Remove(path + CompressedExt)
		return err
	}
	if err := output.Close(); err != nil {
		os.Remove(path + CompressedExt)
		return err
	}

	return os.Remove(path)
}

// ReadCompressed returns the decompressed contents of a rotated log.
func ReadCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return io.ReadAll(dec)
}

// cleanup removes old log files based on retention policy.
func (r *FileRotator) cleanup() {
	dir := filepath.Dir(r.config.FilePath)
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	// Find all rotated log files
	pattern := filepath.Join(dir, name+"-*"+ext+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	// Sort by modification time (oldest first)
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

	// Zero limits keep everything.
	if r.config.MaxBackups > 0 && len(files) > r.config.MaxBackups {
		for i := 0; i < len(files)-r.config.MaxBackups; i++ {
			os.Remove(files[i].path)
		}
	}

	if r.config.MaxAge <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -r.config.MaxAge)
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			os.Remove(f.path)
		}
	}
}

// Close waits for pending compression and closes the underlying file.
func (r *FileRotator) Close() error {
	r.wg.Wait()

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
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// GetLogFiles returns a list of all log files (current and rotated).
func (r *FileRotator) GetLogFiles() ([]string, error) {
	dir := filepath.Dir(r.config.FilePath)
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	files := []string{r.config.FilePath}

	// Find rotated files
	pattern := filepath.Join(dir, name+"-*"+ext+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return files, err
	}

	files = append(files, matches...)
	return files, nil
}
