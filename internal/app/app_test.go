package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/observability"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_BALANCE_TOLERANCE", "0.05")
	t.Setenv("APP_CORS_ORIGINS", "https://a.example,https://b.example")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.True(t, cfg.LedgerRedisSequence)
	require.False(t, cfg.InventoryAllowNegativeStock)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	tol, err := cfg.BalanceTolerance()
	require.NoError(t, err)
	require.Equal(t, "0.05", tol.String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadTolerance(t *testing.T) {
	t.Setenv("LEDGER_BALANCE_TOLERANCE", "-1")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_BALANCE_TOLERANCE", "abc")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
}

func TestActorMiddleware(t *testing.T) {
	var seen uuid.UUID
	h := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	actor := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, actor.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, actor, seen)

	seen = uuid.Nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uuid.Nil, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterHealthReadinessAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:  &Config{AppEnv: "production", AppRequestTimeout: 0},
		Metrics: metrics,
		Readiness: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `dealerledger_http_requests_total{code="200",route="/healthz"} 1`))
}

func TestReadinessReportsDownDependency(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/readyz", readiness(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("refused") }),
	}, nil))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"redis":"down"}`, rec.Body.String())
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestBuildWiresServicesOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &Config{
		RedisAddr:                   mr.Addr(),
		LedgerBalanceTolerance:      "0.02",
		LedgerVoucherNumberAttempts: 3,
		LedgerRedisSequence:         true,
		InventoryAllowNegativeStock: true,
	}
	ledgerCfg, err := cfg.LedgerConfig()
	require.NoError(t, err)
	require.Equal(t, "0.02", ledgerCfg.Tolerance.String())
	require.Equal(t, 3, ledgerCfg.NumberAttempts)
	require.True(t, ledgerCfg.AllowNegativeStock)
	require.Equal(t, mr.Addr(), cfg.RedisOpt().Addr)

	svc, err := Build(cfg, nil, rdb, nil)
	require.NoError(t, err)
	require.NotNil(t, svc.Ledger)
	require.NotNil(t, svc.Posting)
	require.NotNil(t, svc.Inventory)
	require.NotNil(t, svc.Jobs)
	require.NoError(t, svc.Readiness()["redis"].Ping(context.Background()))
	svc.Close(slog.Default())
}
