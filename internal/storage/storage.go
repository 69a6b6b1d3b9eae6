// Package storage archives uploaded images and fetches them back by key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is implemented by S3Store and DiskStore.
type ObjectStore interface {
	Archive(ctx context.Context, key, contentType string, data []byte) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Location(key string) string
}

const keyPrefix = "plants"

// NewKey builds a unique object key for an uploaded file.
func NewKey(filename string, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return path.Join(keyPrefix, fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102150405"), id, filename))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces a client-supplied name to ASCII letters, digits,
// '_', '.' and '-', dropping any directory components. It may return "".
func SecureFilename(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err == nil {
		name = folded
	}
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}
