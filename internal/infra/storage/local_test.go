package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

func newLocalStore(t *testing.T, settings model.StoragePolicySettings) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(&model.StoragePolicy{
		Type:     constant.PolicyTypeLocal,
		Server:   t.TempDir(),
		Settings: settings,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutIsExclusive(t *testing.T) {
	store := newLocalStore(t, nil)
	ctx := context.Background()
	key := "assets/ab/abcdef"

	info, err := store.Put(ctx, key, []byte("first"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "/static/assets/assets/ab/abcdef", info.URL)

	_, err = store.Put(ctx, key, []byte("second"), "text/plain")
	assert.ErrorIs(t, err, ErrObjectExists)

	data, err := os.ReadFile(filepath.Join(store.Root(), "assets", "ab", "abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(filepath.Join(store.Root(), "assets", "ab"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "临时文件应当被清理")
}

func TestLocalStore_HeadAndDelete(t *testing.T) {
	store := newLocalStore(t, model.StoragePolicySettings{constant.CDNDomainSettingKey: "https://img.example.com/"})
	ctx := context.Background()

	_, err := store.Head(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = store.Put(ctx, "a/b.txt", []byte("hello world"), "text/plain")
	require.NoError(t, err)

	info, err := store.Head(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "https://img.example.com/a/b.txt", info.URL)
	assert.Contains(t, info.ContentType, "text/plain")

	require.NoError(t, store.Delete(ctx, "a/b.txt"))
	assert.ErrorIs(t, store.Delete(ctx, "a/b.txt"), ErrObjectNotFound)
}

func TestLocalStore_KeyCannotEscapeRoot(t *testing.T) {
	store := newLocalStore(t, nil)
	_, err := store.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(store.Root(), "etc", "passwd"))
	assert.NoError(t, statErr)
}

func TestNewObjectStore(t *testing.T) {
	_, err := NewObjectStore(&model.StoragePolicy{Type: "ftp"}, nil)
	assert.ErrorIs(t, err, constant.ErrInvalidPolicyType)

	_, err = NewObjectStore(&model.StoragePolicy{Type: constant.PolicyTypeAliOSS, BucketName: "b"}, nil)
	assert.ErrorIs(t, err, constant.ErrPolicySettingsInvalid)

	store, err := NewObjectStore(&model.StoragePolicy{Type: constant.PolicyTypeLocal, Server: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, constant.PolicyTypeLocal, store.Name())
}

func TestResolveS3Region(t *testing.T) {
	testCases := []struct {
		name         string
		policy       *model.StoragePolicy
		wantRegion   string
		wantEndpoint string
	}{
		{"空配置", &model.StoragePolicy{}, "us-east-1", ""},
		{"区域名", &model.StoragePolicy{Server: "eu-west-1"}, "eu-west-1", ""},
		{"官方域名", &model.StoragePolicy{Server: "https://s3.us-west-2.amazonaws.com"}, "us-west-2", "https://s3.us-west-2.amazonaws.com"},
		{"自定义endpoint", &model.StoragePolicy{Server: "http://minio:9000/"}, "us-east-1", "http://minio:9000"},
		{"显式区域优先", &model.StoragePolicy{
			Server:   "http://minio:9000",
			Settings: model.StoragePolicySettings{constant.RegionSettingKey: "cn-north-1"},
		}, "cn-north-1", "http://minio:9000"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			region, endpoint := resolveS3Region(tc.policy)
			assert.Equal(t, tc.wantRegion, region)
			assert.Equal(t, tc.wantEndpoint, endpoint)
		})
	}
}
