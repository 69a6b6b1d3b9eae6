package imageio

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
	"github.com/Brownie44l1/plantdx-api/internal/storage"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertInput(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
}

func TestFromURL(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/leaf.png":
			w.Write(data)
		case "/garbage":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(srv.Client(), nil, "", 0)
	ctx := context.Background()

	img, err := l.FromURL(ctx, srv.URL+"/leaf.png")
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())

	_, err = l.FromURL(ctx, srv.URL+"/missing.png")
	assertInput(t, err)

	_, err = l.FromURL(ctx, srv.URL+"/garbage")
	assertInput(t, err)

	img, err = l.Resolve(ctx, srv.URL+"/leaf.png")
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestFromURLRejectsOversizedBody(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	l := NewLoader(srv.Client(), nil, "", int64(len(data)-1))
	_, err := l.FromURL(context.Background(), srv.URL)
	assertInput(t, err)
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o644))

	l := NewLoader(nil, nil, "", 0)

	img, err := l.FromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dy())

	_, err = l.FromPath(filepath.Join(dir, "nope.png"))
	assertInput(t, err)
}

func TestFromStorageAndS3URLs(t *testing.T) {
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.Archive(ctx, "plants/leaf.png", "image/png", pngBytes(t))
	require.NoError(t, err)

	l := NewLoader(nil, store, "leaf-images", 0)

	_, err = l.FromStorage(ctx, "plants/leaf.png")
	require.NoError(t, err)

	_, err = l.Resolve(ctx, "s3://leaf-images/plants/leaf.png")
	require.NoError(t, err)

	_, err = l.Resolve(ctx, "s3://plants/leaf.png")
	require.NoError(t, err)

	_, err = l.FromStorage(ctx, "plants/missing.png")
	assertInput(t, err)

	_, err = NewLoader(nil, nil, "", 0).FromStorage(ctx, "plants/leaf.png")
	assertInput(t, err)
}

func TestResolveRejectsUnknownScheme(t *testing.T) {
	l := NewLoader(nil, nil, "", 0)
	_, err := l.Resolve(context.Background(), "ftp://example.com/leaf.png")
	assertInput(t, err)

	_, err = l.Resolve(context.Background(), "leaf.png")
	assertInput(t, err)
}

func TestDecode(t *testing.T) {
	_, err := Decode(pngBytes(t))
	require.NoError(t, err)

	_, err = Decode(nil)
	assertInput(t, err)
	_, err = Decode([]byte("GIF89a-but-not-really"))
	assertInput(t, err)
}
