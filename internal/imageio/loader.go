// Package imageio acquires images from remote URLs, object storage or the
// local filesystem. Every failure is reported as an input error.
package imageio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
)

// DefaultMaxBytes caps downloaded and local images.
const DefaultMaxBytes = 32 << 20

// ObjectGetter fetches object bytes by key.
type ObjectGetter interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

type Loader struct {
	client   *http.Client
	objects  ObjectGetter
	bucket   string
	maxBytes int64
}

// NewLoader builds a Loader. objects may be nil when no object storage is
// configured; bucket is used to accept s3://<bucket>/<key> URLs.
func NewLoader(client *http.Client, objects ObjectGetter, bucket string, maxBytes int64) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{client: client, objects: objects, bucket: bucket, maxBytes: maxBytes}
}

// Resolve loads an image_url value: http(s) URLs are fetched, s3:// URLs are
// read from object storage.
func (l *Loader) Resolve(ctx context.Context, rawURL string) (image.Image, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, apperr.Input("imageio.Resolve", "invalid image URL", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return l.FromURL(ctx, u.String())
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host != "" && u.Host != l.bucket {
			key = strings.TrimPrefix(u.Host+"/"+key, "/")
		}
		return l.FromStorage(ctx, key)
	default:
		return nil, apperr.Input("imageio.Resolve", fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil)
	}
}

func (l *Loader) FromURL(ctx context.Context, rawURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Input("imageio.FromURL", "invalid image URL", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperr.Input("imageio.FromURL", "could not download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Input("imageio.FromURL",
			fmt.Sprintf("image download returned status %d", resp.StatusCode), nil)
	}

	data, err := l.readAll(resp.Body)
	if err != nil {
		return nil, apperr.Input("imageio.FromURL", "could not download image", err)
	}
	return decode("imageio.FromURL", data)
}

func (l *Loader) FromStorage(ctx context.Context, key string) (image.Image, error) {
	if l.objects == nil {
		return nil, apperr.Input("imageio.FromStorage", "object storage is not configured", nil)
	}
	if key == "" {
		return nil, apperr.Input("imageio.FromStorage", "empty object key", nil)
	}

	data, err := l.objects.Download(ctx, key)
	if err != nil {
		return nil, apperr.Input("imageio.FromStorage", "could not load image from storage", err)
	}
	return decode("imageio.FromStorage", data)
}

func (l *Loader) FromPath(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Input("imageio.FromPath", "could not open image", err)
	}
	defer f.Close()

	data, err := l.readAll(f)
	if err != nil {
		return nil, apperr.Input("imageio.FromPath", "could not read image", err)
	}
	return decode("imageio.FromPath", data)
}

// Decode decodes image bytes already in memory.
func Decode(data []byte) (image.Image, error) {
	return decode("imageio.Decode", data)
}

func decode(op string, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.Input(op, "empty image", nil)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Input(op, "invalid image format. Supported: JPEG, PNG", err)
	}
	return img, nil
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}
