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
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "knowledge_base", cfg.Index.Collection)
	assert.Equal(t, "./uploads", cfg.Storage.UploadDir)
	assert.Equal(t, int64(20<<20), cfg.Storage.MaxUploadBytes)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "ragchat.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
index:
  collection: from_yaml
ingest:
  chunk_size: 1200
  chunk_overlap: 100
llm:
  timeout: 5s
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COLLECTION_NAME=from_dotenv\n"), 0o644))

	t.Setenv("CONFIG_FILE", yamlPath)
	t.Setenv("CHUNK_OVERLAP", "150")
	t.Setenv("ALLOWED_EXTENSIONS", "pdf, txt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Ingest.ChunkSize)
	assert.Equal(t, 150, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "from_dotenv", cfg.Index.Collection)
	assert.Equal(t, []string{"pdf", "txt"}, cfg.Storage.AllowedExtensions)
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHUNK_SIZE", "lots")

	_, err := Load()
	assert.ErrorContains(t, err, "CHUNK_SIZE")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Index.Path = filepath.Join(dir, "index")
	cfg.Eval.OutputDir = filepath.Join(dir, "eval")

	require.NoError(t, cfg.Validate())
	assert.DirExists(t, cfg.Storage.UploadDir)
	assert.DirExists(t, cfg.Index.Path)
	assert.DirExists(t, cfg.Eval.OutputDir)

	cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize
	assert.ErrorContains(t, cfg.Validate(), "CHUNK_OVERLAP")

	cfg = Defaults()
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Index.Backend = "pgvector"
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")
}

func TestAllowedExtension(t *testing.T) {
	s := StorageConfig{AllowedExtensions: []string{"pdf", ".TXT"}}
	assert.True(t, s.AllowedExtension(".pdf"))
	assert.True(t, s.AllowedExtension("txt"))
	assert.True(t, s.AllowedExtension(".Txt"))
	assert.False(t, s.AllowedExtension(".exe"))
}
