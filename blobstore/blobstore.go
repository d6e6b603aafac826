// Package blobstore keeps uploaded submission images and hands back a
// reference the ledger stores verbatim.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotImage is returned for uploads whose content type is not image/*.
var ErrNotImage = errors.New("only image uploads are accepted")

// Store saves a blob and returns a retrievable reference to it.
type Store interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// objectName derives a collision-free name that keeps a safe extension from
// the client's filename. The client name itself is never used as a path.
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// CheckImage rejects non-image content types.
func CheckImage(contentType string) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return fmt.Errorf("%w: got %q", ErrNotImage, contentType)
	}
	return nil
}

// Local writes blobs into a directory that is served under URLPrefix.
type Local struct {
	Dir       string
	URLPrefix string
}

// NewLocal ensures dir exists.
func NewLocal(dir, urlPrefix string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (l *Local) Put(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := CheckImage(contentType); err != nil {
		return "", err
	}
	name := objectName(filename)
	path := filepath.Join(l.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close blob: %w", err)
	}
	return l.URLPrefix + "/" + name, nil
}
