package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromFile_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.ini")

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "默认配置文件应被创建")

	assert.Equal(t, "sqlite", cfg.GetString(KeyDBType))
	assert.Equal(t, 2, cfg.GetInt(KeyUploadConc))
	assert.Equal(t, 60, cfg.GetInt(KeyCacheTTLSeconds))
}

func TestNewConfigFromFile_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.ini")
	require.NoError(t, os.WriteFile(path, []byte("[Storage]\nType = aws_s3\nBucket = from-file\n"), 0644))

	t.Setenv("BDTS_STORAGE_BUCKET", "from-env")

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "aws_s3", cfg.GetString(KeyStorageType))
	assert.Equal(t, "from-env", cfg.GetString(KeyStorageBucket))
	// 未出现在文件中的键回落到内部默认值
	assert.Equal(t, 3, cfg.GetInt(KeyUploadRetries))
}

func TestNewConfigFromFile_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.ini")
	require.NoError(t, os.WriteFile(path, []byte("[Storage\nType = x"), 0644))

	_, err := NewConfigFromFile(path)
	assert.Error(t, err)
}

func TestNewConfigFromViper(t *testing.T) {
	vp := viper.New()
	vp.Set(KeyUploadConc, 1)

	cfg := NewConfigFromViper(vp)
	assert.Equal(t, 1, cfg.GetInt(KeyUploadConc))
	assert.Equal(t, "local", cfg.GetString(KeyStorageType))
}
