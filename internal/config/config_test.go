package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, filepath.Join("model", "plant_disease_model.onnx"), cfg.Model.Path)
	assert.Equal(t, "nhwc", cfg.Model.InputLayout)
	assert.Equal(t, 224, cfg.Model.ImageSize)
	assert.Equal(t, []string{"png", "jpg", "jpeg"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.True(t, cfg.Debug())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
env: production
port: "9000"
model:
  path: /models/from-file.onnx
  input_layout: nchw
http:
  timeout: 15s
`), 0o644))

	t.Setenv("CONFIG_FILE", file)
	t.Setenv("PORT", "8088")
	t.Setenv("ALLOWED_EXTENSIONS", "PNG, .jpg")
	t.Setenv("LOG_TO_STDOUT", "true")
	t.Setenv("S3_BUCKET_NAME", "leaf-images")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8088", cfg.Port)
	assert.Equal(t, "/models/from-file.onnx", cfg.Model.Path)
	assert.Equal(t, "nchw", cfg.Model.InputLayout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"png", "jpg"}, cfg.Upload.AllowedExtensions)
	assert.True(t, cfg.Log.ToStdout)
	assert.Equal(t, "leaf-images", cfg.Storage.Bucket)
	assert.False(t, cfg.Debug())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MODEL_PATH=weights/leaf.onnx\n"), 0o644))
	t.Setenv("MODEL_PATH", "")
	require.NoError(t, os.Unsetenv("MODEL_PATH"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "weights/leaf.onnx", cfg.Model.Path)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("MODEL_INPUT_LAYOUT", "hwcn")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MODEL_INPUT_LAYOUT", "")
	t.Setenv("MAX_UPLOAD_MB", "lots")
	_, err = Load()
	assert.Error(t, err)
}

func TestAllowedFile(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.AllowedFile("leaf.JPG"))
	assert.True(t, cfg.AllowedFile("leaf.png"))
	assert.False(t, cfg.AllowedFile("leaf.gif"))
	assert.False(t, cfg.AllowedFile("leaf"))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
