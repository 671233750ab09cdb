// Package screenshot keeps raster captures on local disk.
package screenshot

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var ErrNotFound = errors.New("screenshot not found")

// Store writes files atomically under Root. Keys are slash separated and
// relative to Root.
type Store struct {
	Root string
	log  *zap.Logger
}

func New(root string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}
	return &Store{Root: root, log: log.With(zap.String("component", "screenshot.store"))}, nil
}

// Digest is a short content hash used in file names.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func CurrentKey(targetID int64, data []byte) string {
	return fmt.Sprintf("targets/%d/current-%s.png", targetID, Digest(data))
}

func DiffKey(targetID int64, data []byte) string {
	return fmt.Sprintf("targets/%d/diff-%s.png", targetID, Digest(data))
}

// HistoryKey names the copy referenced by one history record.
func HistoryKey(targetID int64, at time.Time, role string) string {
	return fmt.Sprintf("history/%d/%s-%s.png", targetID, at.UTC().Format("20060102T150405.000"), role)
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid screenshot key %q", key)
	}
	return filepath.Join(s.Root, clean), nil
}

// Put writes data under key; readers never see a partial file.
func (s *Store) Put(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Delete removes key; a missing file is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return nil
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteAll removes keys best-effort and logs failures.
func (s *Store) DeleteAll(keys ...string) {
	for _, k := range keys {
		if err := s.Delete(k); err != nil {
			s.log.Warn("delete superseded screenshot", zap.String("key", k), zap.Error(err))
		}
	}
}
