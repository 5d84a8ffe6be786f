package service_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// fileHeader builds the multipart header gin would hand to a controller.
func fileHeader(t *testing.T, filename string, body []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func newLocalStorage(t *testing.T, maxMB int) (*service.StorageService, string) {
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: dir, MaxImageMB: maxMB}}
	return service.NewStorageService(cfg), dir
}

func TestUploadImageStoresLocally(t *testing.T) {
	svc, dir := newLocalStorage(t, 1)

	asset, err := svc.UploadImage(context.Background(), fileHeader(t, "Diagram.PNG", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.True(t, strings.HasPrefix(asset.Key, "images/"))
	assert.True(t, strings.HasSuffix(asset.Key, ".png"))
	assert.Equal(t, "/uploads/"+asset.Key, asset.URL)

	stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(asset.Key)))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)

	require.NoError(t, svc.Delete(context.Background(), asset.Key))
}

func TestUploadImageRejects(t *testing.T) {
	svc, _ := newLocalStorage(t, 1)
	ctx := context.Background()

	_, err := svc.UploadImage(ctx, fileHeader(t, "notes.txt", pngHeader))
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = svc.UploadImage(ctx, fileHeader(t, "fake.png", []byte("<html><body>hi</body></html>")))
	assert.ErrorIs(t, err, util.ErrValidation)

	big := append(append([]byte{}, pngHeader...), make([]byte, 1<<20)...)
	_, err = svc.UploadImage(ctx, fileHeader(t, "big.png", big))
	assert.ErrorIs(t, err, util.ErrValidation)
}

func TestStorageFallsBackToLocal(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Type: util.StorageMinio, LocalPath: t.TempDir()}}
	svc := service.NewStorageService(cfg)
	_, ok := svc.Provider.(*service.LocalStorageProvider)
	assert.True(t, ok)
}
