// Package filesystem implements a repository connector over a local or mounted
// directory tree. Directories are containers; regular files are ingested.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/fingerprint"
)

const readDirBatch = 256

// Config captures the parameters of a filesystem connection.
type Config struct {
	Name  string   `mapstructure:"name"`
	Roots []string `mapstructure:"roots"`
}

// Connector walks directory trees.
type Connector struct {
	name   string
	roots  []string
	logger *zap.Logger
}

// New builds a filesystem Connector.
func New(cfg Config, logger *zap.Logger) (*Connector, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("at least one root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", root, err)
		}
		roots = append(roots, abs)
	}
	return &Connector{name: cfg.Name, roots: roots, logger: logger}, nil
}

// Name implements crawler.Connector.
func (c *Connector) Name() string {
	return c.name
}

// Kind implements crawler.Connector.
func (c *Connector) Kind() string {
	return "filesystem"
}

// Check verifies every root is a readable directory.
func (c *Connector) Check(_ context.Context) error {
	for _, root := range c.roots {
		info, err := os.Stat(root)
		if err != nil {
			return classify("stat root", err)
		}
		if !info.IsDir() {
			return bridge.Protocol(fmt.Sprintf("root %s is not a directory", root), nil)
		}
	}
	return nil
}

// Seed emits the job's explicit seeds or the configured roots.
func (c *Connector) Seed(_ context.Context, params crawler.JobParameters, out *bridge.Sequence) error {
	seeds := params.Seeds
	if len(seeds) == 0 {
		seeds = c.roots
	}
	for _, seed := range seeds {
		abs, err := filepath.Abs(seed)
		if err != nil {
			return bridge.Protocol(fmt.Sprintf("invalid seed %q", seed), err)
		}
		if !out.Put(abs) {
			return nil
		}
	}
	return nil
}

// Version stats the path. Directories carry no fingerprint and are always rescanned.
func (c *Connector) Version(_ context.Context, id string) (crawler.DocumentInfo, error) {
	info, err := os.Stat(id)
	if err != nil {
		return crawler.DocumentInfo{}, classify("stat document", err)
	}
	if info.IsDir() {
		return crawler.DocumentInfo{Container: true, URI: fileURI(id)}, nil
	}
	if !info.Mode().IsRegular() {
		return crawler.DocumentInfo{}, crawler.ErrNotFound
	}
	fp := fingerprint.Fingerprint{
		Path:     fileURI(id),
		Modified: info.ModTime().UnixMilli(),
		Length:   info.Size(),
	}
	return crawler.DocumentInfo{
		Version:     fp.String(),
		Indexable:   true,
		ContentType: contentType(id),
		URI:         fileURI(id),
	}, nil
}

// Children lists a directory in batches, stopping between batches once abandoned.
func (c *Connector) Children(_ context.Context, id string, out *bridge.Sequence) error {
	dir, err := os.Open(id)
	if err != nil {
		return classify("open directory", err)
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			c.logger.Debug("close directory failed", zap.String("path", id), zap.Error(closeErr))
		}
	}()

	for {
		if out.IsAbandoned() {
			return nil
		}
		entries, err := dir.ReadDir(readDirBatch)
		for _, entry := range entries {
			if !out.Put(filepath.Join(id, entry.Name())) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify("read directory", err)
		}
	}
}

// Content streams the file body.
func (c *Connector) Content(_ context.Context, id string, out *bridge.ByteStream) error {
	f, err := os.Open(id)
	if err != nil {
		return classify("open file", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			c.logger.Debug("close file failed", zap.String("path", id), zap.Error(closeErr))
		}
	}()
	if _, err := out.ReadFrom(f); err != nil {
		if errors.Is(err, bridge.ErrAbandoned) {
			return err
		}
		return classify("read file", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return bridge.Protocol(op+": permission denied", err)
	default:
		return bridge.RemoteIO(op, err)
	}
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
