// Package storage persists captured artifacts to disk. The default mode is
// content-addressed: the filename derives from a SHA-256 of the content, so
// identical bytes always land on the same path and concurrent writers
// deduplicate through the filesystem itself rather than an in-process lock.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"activityd/internal/logging"
)

// ErrInvalidData rejects content that violates storage limits before any
// filesystem I/O happens.
var ErrInvalidData = errors.New("invalid data")

// hashPrefixLen is the number of hex characters of the SHA-256 used as the
// content-addressed filename.
const hashPrefixLen = 16

// Options mirror the storage section of the daemon config.
type Options struct {
	BaseDir        string
	OrganizeByType bool
	UseContentHash bool
	MaxFileSize    int64
}

// SavedAssetInfo is the immutable result of a successful save.
type SavedAssetInfo struct {
	FilePath     string    `json:"file_path"`     // relative to BaseDir
	AbsolutePath string    `json:"absolute_path"` //
	ContentHash  string    `json:"content_hash,omitempty"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	SavedAt      time.Time `json:"saved_at"`
}

// AssetStorage writes artifacts under a base directory. It holds no mutable
// state besides configuration; cross-writer safety comes from filesystem
// atomics (O_EXCL create, rename), not locks.
type AssetStorage struct {
	opts Options
}

// NewAssetStorage creates storage rooted at opts.BaseDir, creating the
// directory if needed.
func NewAssetStorage(opts Options) (*AssetStorage, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("storage: base dir must not be empty")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 50 * 1024 * 1024
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &AssetStorage{opts: opts}, nil
}

// BaseDir returns the storage root.
func (s *AssetStorage) BaseDir() string { return s.opts.BaseDir }

// Save persists content. id and displayName feed the non-hash filename;
// assetType selects the subdirectory when organize_by_type is on. mimeType
// may be empty, in which case it is sniffed from the content.
func (s *AssetStorage) Save(content []byte, id, displayName, mimeType, assetType string) (*SavedAssetInfo, error) {
	if int64(len(content)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: content size %d exceeds max %d", ErrInvalidData, len(content), s.opts.MaxFileSize)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}

	dir := s.opts.BaseDir
	rel := ""
	if s.opts.OrganizeByType && assetType != "" {
		seg := SanitizeFilename(assetType)
		dir = filepath.Join(dir, seg)
		rel = seg
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create type dir: %w", err)
		}
	}

	if s.opts.UseContentHash {
		return s.saveHashed(content, displayName, mimeType, dir, rel)
	}
	return s.saveNamed(content, id, displayName, mimeType, dir, rel)
}

// saveHashed writes content-addressed via create-new-exclusive. A concurrent
// or earlier writer of the same bytes makes the create fail with EEXIST,
// which counts as success: the existing file already holds exactly this
// content.
func (s *AssetStorage) saveHashed(content []byte, displayName, mimeType, dir, rel string) (*SavedAssetInfo, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	name := hash[:hashPrefixLen] + sanitizeExt(filepath.Ext(displayName))

	abs := filepath.Join(dir, name)
	relPath := filepath.Join(rel, name)

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			logging.Get(logging.CategoryStorage).Debugw("dedup hit, no bytes written",
				"path", relPath, "hash", hash[:hashPrefixLen])
			return s.existingInfo(abs, relPath, hash, mimeType)
		}
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(abs)
		return nil, fmt.Errorf("storage: write %s: %w", abs, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("storage: close %s: %w", abs, err)
	}

	return &SavedAssetInfo{
		FilePath:     relPath,
		AbsolutePath: abs,
		ContentHash:  hash,
		Size:         int64(len(content)),
		MimeType:     mimeType,
		SavedAt:      time.Now().UTC(),
	}, nil
}

func (s *AssetStorage) existingInfo(abs, relPath, hash, mimeType string) (*SavedAssetInfo, error) {
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat existing %s: %w", abs, err)
	}
	return &SavedAssetInfo{
		FilePath:     relPath,
		AbsolutePath: abs,
		ContentHash:  hash,
		Size:         fi.Size(),
		MimeType:     mimeType,
		SavedAt:      fi.ModTime().UTC(),
	}, nil
}

// saveNamed writes id_name-addressed content through a same-directory dotfile
// temp path followed by fsync and an atomic rename, so a crash mid-write
// never exposes a corrupt file at the final path. Repeated saves overwrite.
func (s *AssetStorage) saveNamed(content []byte, id, displayName, mimeType, dir, rel string) (*SavedAssetInfo, error) {
	base := SanitizeFilename(id) + "_" + SanitizeFilename(displayName)
	ext := sanitizeExt(filepath.Ext(displayName))
	// sanitizeExt lowercases, so the suffix trim has to ignore case or an
	// uppercase display-name extension gets duplicated.
	if ext != "" && len(base) >= len(ext) && strings.EqualFold(base[len(base)-len(ext):], ext) {
		base = base[:len(base)-len(ext)]
	}
	name := base + ext

	abs := filepath.Join(dir, name)
	relPath := filepath.Join(rel, name)

	var rnd [6]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return nil, fmt.Errorf("storage: temp suffix: %w", err)
	}
	tmp := filepath.Join(dir, "."+name+".tmp-"+hex.EncodeToString(rnd[:]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create temp %s: %w", tmp, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("storage: write temp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("storage: sync temp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("storage: close temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("storage: rename %s: %w", abs, err)
	}

	return &SavedAssetInfo{
		FilePath:     relPath,
		AbsolutePath: abs,
		Size:         int64(len(content)),
		MimeType:     mimeType,
		SavedAt:      time.Now().UTC(),
	}, nil
}
