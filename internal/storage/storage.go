// Package storage defines the content store for raw uploaded files: a
// binary-safe blob store that records an MD5 digest and byte length on write
// and refuses to return bytes that no longer match them.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyPayload    = errors.New("empty payload")
	ErrContentNotFound = errors.New("content not found")

	// ErrIntegrity matches every read-side verification failure.
	ErrIntegrity    = errors.New("integrity check failed")
	ErrHashMismatch = fmt.Errorf("%w: hash mismatch", ErrIntegrity)
	ErrSizeMismatch = fmt.Errorf("%w: size mismatch", ErrIntegrity)
	ErrEmptyResult  = fmt.Errorf("%w: empty result", ErrIntegrity)

	ErrMissingMetadata = fmt.Errorf("%w: no recorded digest or size", ErrIntegrity)
)

// Metadata keys written alongside every payload.
const (
	MetaOriginalHash = "original-md5"
	MetaOriginalSize = "original-size"
)

// Store is the content store contract shared by the MinIO and in-memory
// implementations. Handles are opaque to callers.
type Store interface {
	Put(ctx context.Context, name string, data []byte, meta map[string]string) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
	Exists(ctx context.Context, handle string) (bool, error)
	Delete(ctx context.Context, handle string) error
}

// Digest returns the hex MD5 of data.
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Seal validates a payload and returns a copy of meta carrying its digest and
// length.
func Seal(data []byte, meta map[string]string) (map[string]string, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out[MetaOriginalHash] = Digest(data)
	out[MetaOriginalSize] = strconv.Itoa(len(data))
	return out, nil
}

// Verify compares data read back from a store against the metadata captured
// by Seal. Content without that metadata fails with ErrIntegrity.
func Verify(handle string, data []byte, meta map[string]string) error {
	if len(data) == 0 {
		return fmt.Errorf("%s: %w", handle, ErrEmptyResult)
	}
	wantSize, okSize := meta[MetaOriginalSize]
	wantHash, okHash := meta[MetaOriginalHash]
	if !okSize || !okHash {
		return fmt.Errorf("%s: %w", handle, ErrMissingMetadata)
	}
	size, err := strconv.Atoi(wantSize)
	if err != nil {
		return fmt.Errorf("%s: %w: bad recorded size %q", handle, ErrIntegrity, wantSize)
	}
	if size != len(data) {
		return fmt.Errorf("%s: %w: expected %d bytes, got %d", handle, ErrSizeMismatch, size, len(data))
	}
	if got := Digest(data); !strings.EqualFold(got, wantHash) {
		return fmt.Errorf("%s: %w: expected %s, got %s", handle, ErrHashMismatch, wantHash, got)
	}
	return nil
}

// NewHandle builds a unique object key that keeps the original name readable.
func NewHandle(name string) string {
	return fmt.Sprintf("uploads/%s/%s", uuid.NewString(), SanitizeName(name))
}

// SanitizeName reduces a client supplied file name to a safe object name.
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "upload.bin"
	}
	return base
}
