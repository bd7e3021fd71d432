// Package rotate implements a generic size-bounded append-only file sink
// shared by the qlog, recorder, keylog, and text-log artifact streams.
package rotate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
)

// NewFileHook is invoked exactly once after every file creation, including
// the first, so that callers can write a per-file header (the qlog header
// record, for example) before any real data reaches the new file.
type NewFileHook func(w io.Writer) error

// Config is the configuration for a [*Writer].  All fields except Hook must
// be set.
type Config struct {
	// Hook is run once per new file, right after creation and before the
	// first write.  May be nil.
	Hook NewFileHook

	// BasePath is the path of the first file in the rotation.  Subsequent
	// files are named BasePath + ".1", ".2", and so on.
	BasePath string

	// MaxBytes is the size threshold past which the writer rotates before
	// the next write.  A single record larger than MaxBytes is still
	// written whole, into a file of its own.
	MaxBytes int64
}

// suffixPattern matches the rotated-file suffix form "<base>.<n>".
var suffixPattern = regexp.MustCompile(`\.([0-9]+)$`)

// Writer is a size-bounded append-only file sink.  It is safe for
// concurrent use; every operation is serialized by an internal mutex, since
// rotation must be an exclusive critical section (spec.md §5).
type Writer struct {
	hook NewFileHook

	mu   sync.Mutex
	file *os.File

	basePath string
	maxBytes int64
	size     int64
	suffix   int
}

// New creates a *Writer for cfg.  It discovers the highest existing
// rotation suffix on disk and continues from there, per spec.md §4.1.  The
// directory containing cfg.BasePath must already exist.
func New(cfg *Config) (w *Writer, err error) {
	w = &Writer{
		hook:     cfg.Hook,
		basePath: cfg.BasePath,
		maxBytes: cfg.MaxBytes,
	}

	w.suffix, err = discoverHighestSuffix(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("discovering rotation state for %q: %w", cfg.BasePath, err)
	}

	err = w.openCurrent()
	if err != nil {
		return nil, fmt.Errorf("opening initial file for %q: %w", cfg.BasePath, err)
	}

	return w, nil
}

// discoverHighestSuffix scans the directory containing basePath for
// existing "<base>.<n>" files and returns the highest n found, or 0 if none
// exist (including when the directory itself is missing, which is treated
// as "nothing rotated yet").
func discoverHighestSuffix(basePath string) (highest int, err error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	for _, ent := range entries {
		name := ent.Name()
		if !ent.Type().IsRegular() && ent.Type()&os.ModeSymlink == 0 {
			continue
		}

		rest, ok := cutPrefixAndDot(name, base)
		if !ok {
			continue
		}

		m := suffixPattern.FindStringSubmatch("." + rest)
		if m == nil {
			continue
		}

		n, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}

		if n > highest {
			highest = n
		}
	}

	return highest, nil
}

// cutPrefixAndDot reports whether name is exactly base, or base followed by
// a dot and at least one more character; rest is the part after "base.",
// which the caller still has to check for a numeric suffix.
func cutPrefixAndDot(name, base string) (rest string, ok bool) {
	if name == base {
		return "", true
	}

	prefix := base + "."
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}

	return name[len(prefix):], true
}

// pathForSuffix returns the on-disk path for the given rotation suffix; 0
// means the unsuffixed base file.
func (w *Writer) pathForSuffix(suffix int) string {
	if suffix == 0 {
		return w.basePath
	}

	return fmt.Sprintf("%s.%d", w.basePath, suffix)
}

// openCurrent opens (creating if necessary) the file at the writer's
// current suffix, running the new-file hook if the file is empty.
func (w *Writer) openCurrent() (err error) {
	path := w.pathForSuffix(w.suffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return errors.WithDeferred(err, f.Close())
	}

	w.file = f
	w.size = info.Size()

	if w.size == 0 && w.hook != nil {
		err = w.hook(f)
		if err != nil {
			return errors.WithDeferred(fmt.Errorf("running new-file hook: %w", err), f.Close())
		}
	}

	return nil
}

// rotate closes the current file and opens the next one in sequence.
func (w *Writer) rotate() (err error) {
	err = w.file.Close()
	if err != nil {
		return fmt.Errorf("closing rotated file: %w", err)
	}

	w.suffix++

	return w.openCurrent()
}

// Write atomically appends a single record to the current file, rotating
// first if the write would push the file past MaxBytes.  A record is never
// split across files, even if it alone exceeds MaxBytes (spec.md §4.1).
func (w *Writer) Write(record []byte) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(record)) > w.maxBytes {
		err = w.rotate()
		if err != nil {
			return fmt.Errorf("rotating before write: %w", err)
		}
	}

	n, err := w.file.Write(record)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("writing record: %w", err)
	}

	return nil
}

// Flush flushes any OS-level buffering by syncing the current file.
func (w *Writer) Flush() (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Sync()
}

// Close closes the current underlying file.
func (w *Writer) Close() (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}
