package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/app/middleware"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/database"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/sqlrepo"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/storage"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/auth"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/event"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	asset_handler "github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/handler/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/idgen"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/checksum"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

var testSecret = []byte("router-test-secret")

func newTestEngine(t *testing.T, health HealthChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	vp := viper.New()
	vp.Set(config.KeyDBType, "sqlite")
	vp.Set(config.KeyDBName, filepath.Join(t.TempDir(), "router.db"))
	db, dialect, err := database.NewSQLDB(config.NewConfigFromViper(vp), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrationService(db, dialect, zap.NewNop()).RunMigrations(context.Background()))

	store, err := storage.NewLocalStore(&model.StoragePolicy{Type: constant.PolicyTypeLocal, Server: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	adapter := storage.NewAdapter(store, storage.AdapterOptions{BasePath: "assets"}, nil, m)
	encoder, err := idgen.NewEncoder("router-test")
	require.NoError(t, err)
	bus := event.NewEventBus(nil)
	t.Cleanup(bus.Shutdown)

	svc := asset.NewService(
		checksum.NewService(sqlrepo.NewChecksumRepo(db, dialect), nil),
		sqlrepo.NewAssetRepo(db, dialect),
		adapter, constant.PolicyTypeLocal, utility.NewKeyedLocker(), encoder, bus, m, nil,
		asset.Options{Concurrency: 2, MaxSize: 1 << 20},
	)
	cache := utility.NewMemoryCacheService()
	t.Cleanup(cache.Stop)

	engine := gin.New()
	NewRouter(
		asset_handler.NewAssetHandler(svc, cache, time.Minute, nil),
		middleware.NewMiddleware(testSecret, nil),
		m, reg, health, store.Root(),
	).Setup(engine)
	return engine
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.GenerateToken("tester", role, time.Hour, testSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

func send(engine http.Handler, method, path, authz string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

type uploadEnvelope struct {
	Code int                          `json:"code"`
	Data asset_handler.UploadResponse `json:"data"`
}

func TestAssetLifecycle(t *testing.T) {
	engine := newTestEngine(t, nil)
	support := bearer(t, auth.RoleSupport)
	admin := bearer(t, auth.RoleAdmin)

	content := []byte("ticket attachment body")
	payload := "data:text/plain;base64," + base64.StdEncoding.EncodeToString(content)
	body := asset_handler.UploadRequest{Items: []asset.Payload{
		{Data: payload, FileName: "one.txt"},
		{Data: payload, FileName: "two.txt"},
	}}

	w := send(engine, http.MethodPost, "/api/v1/assets", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = send(engine, http.MethodPost, "/api/v1/assets", support, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env uploadEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, 2, env.Data.Succeeded)
	first := env.Data.Results[0].Asset
	second := env.Data.Results[1].Asset
	assert.Equal(t, first.URL, second.URL, "相同内容指向同一文件")
	assert.True(t, strings.HasPrefix(first.URL, constant.LocalAssetRoute+"/"))

	// 本地文件可直接访问
	w = send(engine, http.MethodGet, first.URL, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())

	w = send(engine, http.MethodGet, "/api/v1/assets/"+first.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate, private, max-age=0", w.Header().Get("Cache-Control"))

	w = send(engine, http.MethodDelete, "/api/v1/assets/"+first.ID, support, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = send(engine, http.MethodDelete, "/api/v1/assets/"+first.ID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = send(engine, http.MethodGet, "/api/v1/assets/"+first.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = send(engine, http.MethodGet, "/api/v1/assets/stats", support, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_assets":1`)
}

func TestMetricsAndHealth(t *testing.T) {
	healthy := true
	engine := newTestEngine(t, func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database is down")
	})

	w := send(engine, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	healthy = false
	w = send(engine, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = send(engine, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bdts_api_requests_total")
}

func TestCorsPreflight(t *testing.T) {
	engine := newTestEngine(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assets", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
