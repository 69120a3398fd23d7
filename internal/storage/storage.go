// Package storage stores attachment binaries and hands back a fetchable URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConfigured is returned by stores that have no backing bucket.
	ErrNotConfigured = errors.New("object storage not configured")
	// ErrForeignURL is returned when asked to fetch a URL the store did not issue.
	ErrForeignURL     = errors.New("url was not issued by this store")
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStore persists a binary and returns the URL it can be fetched from.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// Fetcher reads back an object by the URL Store returned.
type Fetcher interface {
	Fetch(ctx context.Context, contentURL string) ([]byte, error)
}

// Bucket stores and reads back attachment binaries.
type Bucket interface {
	ObjectStore
	Fetcher
}

// KeyFromURL returns the object key of a URL issued under base.
func KeyFromURL(base, contentURL string) (string, bool) {
	prefix := strings.TrimSuffix(base, "/") + "/"
	if base == "" || !strings.HasPrefix(contentURL, prefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(contentURL, prefix))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// ObjectKey builds a collision-free key for an attachment, keeping the file name readable.
func ObjectKey(filename string, now time.Time) string {
	name := SanitizeFilename(filename)
	return fmt.Sprintf("attachments/%s/%s/%s", now.UTC().Format("2006/01"), uuid.NewString(), name)
}

// SanitizeFilename strips directory parts and control characters from a client-supplied name.
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "attachment"
	}
	return name
}

// EscapeKey path-escapes every segment of an object key.
func EscapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// MemoryStore keeps objects in memory. It backs the development server and tests.
type MemoryStore struct {
	baseURL string
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimSuffix(baseURL, "/"), objects: map[string][]byte{}}
}

func (s *MemoryStore) Store(_ context.Context, data []byte, filename, _ string) (string, error) {
	key := ObjectKey(filename, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)

	return s.baseURL + "/" + EscapeKey(key), nil
}

func (s *MemoryStore) Fetch(_ context.Context, contentURL string) ([]byte, error) {
	key, ok := KeyFromURL(s.baseURL, contentURL)
	if !ok {
		return nil, ErrForeignURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// NopStore rejects every write. It is used when no bucket is configured.
type NopStore struct{}

func (NopStore) Store(context.Context, []byte, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (NopStore) Fetch(context.Context, string) ([]byte, error) {
	return nil, ErrNotConfigured
}
