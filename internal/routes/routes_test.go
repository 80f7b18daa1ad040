package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
)

func newTestServer(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	err := Setup(app, Deps{
		Cfg: config.Config{
			AppEnv:            "production",
			IdempotencyTTL:    time.Minute,
			StorageTimeout:    time.Second,
			MutationRateLimit: 100,
		},
		Store:  ledger.NewInMemory(),
		Cache:  cache,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	return app
}

func call(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestSetupRequiresRedisOutsideDev(t *testing.T) {
	err := Setup(fiber.New(), Deps{
		Cfg:    config.Config{AppEnv: "production"},
		Store:  ledger.NewInMemory(),
		Logger: logging.Discard(),
	})
	require.Error(t, err)
}

func TestWalletRoundTripWithIdempotentRetry(t *testing.T) {
	app := newTestServer(t)

	update := func() (int, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/wallet/update", strings.NewReader(`{"user_id":"u1","type":"add","amount":"12.50"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set("Idempotency-Key", "topup-1")
		return call(t, app, req)
	}

	status, body := update()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "12.50", body["new_balance"])

	status, body = update()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "12.50", body["new_balance"])

	status, body = call(t, app, httptest.NewRequest(http.MethodGet, "/wallet/u1", nil))
	require.Equal(t, http.StatusOK, status)
	w, _ := body["wallet"].(map[string]any)
	assert.Equal(t, "12.50", w["available_balance"], "retried request must not apply twice")
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestServer(t)

	status, body := call(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, status)
	st, _ := body["status"].(map[string]any)
	assert.Equal(t, "ok", st["store"])
	assert.Equal(t, "ok", st["redis"])
	assert.Equal(t, "disabled", st["postgres"])

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}
