package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrTooLarge rejects objects above the bucket size limit.
	ErrTooLarge = errors.New("object too large")
	// ErrInvalidPath rejects object keys that escape the bucket or contain unsafe segments.
	ErrInvalidPath = errors.New("invalid object path")
)

// Bucket stores firmware objects in a local directory and serves them read-only.
type Bucket struct {
	root      string
	publicURL string
	maxBytes  int64
	logger    *slog.Logger
}

// NewBucket prepares root for writes. publicURL is the URL prefix objects are served under.
func NewBucket(root, publicURL string, maxBytes int64, logger *slog.Logger) (*Bucket, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("bucket root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket root: %w", err)
	}
	return &Bucket{
		root:      root,
		publicURL: strings.TrimSuffix(strings.TrimSpace(publicURL), "/"),
		maxBytes:  maxBytes,
		logger:    logger.With("component", "storage"),
	}, nil
}

// FirmwareKey builds the object key firmware/<version>/<filename>.
func FirmwareKey(version, filename string) (string, error) {
	version = strings.TrimSpace(version)
	filename = path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if !safeSegment(version) || !safeSegment(filename) {
		return "", ErrInvalidPath
	}
	return path.Join("firmware", version, filename), nil
}

// Put writes r under key, replacing any existing object. It returns the stored size.
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	full, err := b.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	reader := r
	if b.maxBytes > 0 {
		reader = io.LimitReader(r, b.maxBytes+1)
	}
	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: reader})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write object %s: %w", key, err)
	}
	if b.maxBytes > 0 && n > b.maxBytes {
		return 0, fmt.Errorf("object %s: %w", key, ErrTooLarge)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("commit object %s: %w", key, err)
	}
	b.logger.Info("object stored", "key", key, "bytes", n)
	return n, nil
}

// PublicURL returns the URL an object is served under.
func (b *Bucket) PublicURL(key string) string {
	return b.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// MountPath returns the request path prefix the bucket handler should be mounted on.
func (b *Bucket) MountPath() string {
	p := b.publicURL
	if u, err := url.Parse(b.publicURL); err == nil && u.Path != "" {
		p = u.Path
	}
	if p == "" {
		return "/"
	}
	return strings.TrimSuffix(p, "/")
}

// Handler serves stored objects read-only. Directory listings are not exposed.
func (b *Bucket) Handler() http.Handler {
	files := http.FileServer(http.Dir(b.root))
	return http.StripPrefix(b.MountPath(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}))
}

func (b *Bucket) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	if clean == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		if !safeSegment(seg) {
			return "", ErrInvalidPath
		}
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_' || r == '+':
		default:
			return false
		}
	}
	return true
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
