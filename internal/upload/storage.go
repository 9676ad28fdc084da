package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("upload not found")
	ErrTooLarge = errors.New("upload exceeds the maximum size")
	ErrEmpty    = errors.New("upload is empty")
)

const maxBaseLength = 128

// DiskStorage keeps uploaded files in a single flat directory.
type DiskStorage struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// NewDiskStorage creates dir if needed. A maxSize of zero means no limit.
func NewDiskStorage(dir string, maxSize int64) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskStorage{dir: dir, maxSize: maxSize, now: time.Now}, nil
}

// Store copies r to a new file and returns its stored name and size. The
// name is YYYYmmddHHMMSS_<5 hex>_<sanitized base>.
func (d *DiskStorage) Store(r io.Reader, suggestedName string) (string, int64, error) {
	base := SanitizeName(suggestedName)

	var (
		f    *os.File
		name string
		err  error
	)
	for range 5 {
		name = fmt.Sprintf("%s_%s_%s", d.now().UTC().Format("20060102150405"), shortID(), base)
		f, err = os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", 0, fmt.Errorf("creating upload file: %w", err)
	}

	src := r
	if d.maxSize > 0 {
		src = io.LimitReader(r, d.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("writing upload file: %w", err)
	case n == 0:
		err = ErrEmpty
	case d.maxSize > 0 && n > d.maxSize:
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(filepath.Join(d.dir, name))
		return "", 0, err
	}
	return name, n, nil
}

// Open returns the stored file. Names that are not a plain file name inside
// the directory are reported as ErrNotFound.
func (d *DiskStorage) Open(storedName string) (*os.File, error) {
	path, ok := d.path(storedName)
	if !ok {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (d *DiskStorage) Remove(storedName string) error {
	path, ok := d.path(storedName)
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing upload: %w", err)
	}
	return nil
}

func (d *DiskStorage) path(storedName string) (string, bool) {
	if storedName == "" || storedName == "." || storedName == ".." ||
		strings.ContainsAny(storedName, `/\`) || filepath.Base(storedName) != storedName {
		return "", false
	}
	return filepath.Join(d.dir, storedName), true
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}

// SanitizeName reduces a client supplied file name to a safe base name made
// of letters, digits, dots, dashes and underscores.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if len(out) > maxBaseLength {
		out = out[len(out)-maxBaseLength:]
	}
	if out == "" {
		return "file"
	}
	return out
}
