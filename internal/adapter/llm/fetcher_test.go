package llm

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

type mapBlobs map[string]domain.ImageFile

func (m mapBlobs) Put(_ context.Context, f domain.ImageFile) (string, error) {
	loc := domain.BlobLocatorPrefix + f.Name
	f.Locator = loc
	m[loc] = f
	return loc, nil
}

func (m mapBlobs) Get(_ context.Context, loc string) (*domain.ImageFile, error) {
	f, ok := m[loc]
	if !ok {
		return nil, domain.ErrBlobNotFound
	}
	return &f, nil
}

func (m mapBlobs) Release(_ context.Context, loc string) error {
	delete(m, loc)
	return nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestFetcherDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed/cat.jpg":
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			w.Write([]byte("jpegbytes"))
		case "/sniffed/":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewFetcher(config.ProviderConfig{}, nil)

	img, err := f.Fetch(context.Background(), server.URL+"/typed/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", img.Name)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, int64(len("jpegbytes")), img.Size)
	assert.Equal(t, server.URL+"/typed/cat.jpg", img.Locator)

	img, err = f.Fetch(context.Background(), server.URL+"/sniffed/")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "sniffed", img.Name)

	_, err = f.Fetch(context.Background(), server.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 404")
}

func TestFetcherDownloadTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(bytes.Repeat([]byte{0}, domain.MaxImageFileSize+1))
	}))
	defer server.Close()

	_, err := NewFetcher(config.ProviderConfig{}, nil).Fetch(context.Background(), server.URL+"/huge.png")
	assert.True(t, errors.Is(err, domain.ErrFileTooLarge), "err = %v", err)
}

func TestFetcherDataURL(t *testing.T) {
	f := NewFetcher(config.ProviderConfig{}, nil)

	img, err := f.Fetch(context.Background(), "data:image/webp;base64,AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, img.Data)
	assert.Equal(t, "image/webp", img.ContentType)
	assert.Equal(t, "generated.webp", img.Name)
	assert.Equal(t, int64(3), img.Size)

	_, err = f.Fetch(context.Background(), "data:image/png,rawtext")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "data:image/png;base64,!!!")
	assert.Error(t, err)
}

func TestFetcherBlobLocator(t *testing.T) {
	blobs := mapBlobs{}
	loc, err := blobs.Put(context.Background(), domain.ImageFile{Name: "thumb.png", Data: []byte("x")})
	require.NoError(t, err)

	f := NewFetcher(config.ProviderConfig{}, blobs)
	img, err := f.Fetch(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, "thumb.png", img.Name)

	_, err = f.Fetch(context.Background(), "blob:unknown")
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)

	_, err = NewFetcher(config.ProviderConfig{}, nil).Fetch(context.Background(), loc)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestFetcherUnsupportedLocator(t *testing.T) {
	_, err := NewFetcher(config.ProviderConfig{}, nil).Fetch(context.Background(), "ftp://x/y.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported locator")
}

func TestFetcherPublicOnlyBlocksLoopback(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	}))
	defer server.Close()

	f := NewFetcher(config.ProviderConfig{}, nil, WithPublicOnly())
	_, err := f.Fetch(context.Background(), server.URL+"/cat.png")
	assert.ErrorIs(t, err, domain.ErrFetchBlocked)
	assert.Equal(t, domain.CodeFetchBlocked, domain.ErrorCodeOf(err))
	assert.False(t, hit)

	_, err = f.Fetch(context.Background(), "http://localhost:1/cat.png")
	assert.ErrorIs(t, err, domain.ErrFetchBlocked)
}
