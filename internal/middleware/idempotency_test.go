package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/logging"
)

type idempotencyHarness struct {
	app   *fiber.App
	calls *atomic.Int32
	fail  *atomic.Bool
}

func setupTestApp(t *testing.T) (idempotencyHarness, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := idempotencyHarness{app: fiber.New(), calls: &atomic.Int32{}, fail: &atomic.Bool{}}
	h.app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	h.app.Post("/wallet/update", func(c *fiber.Ctx) error {
		n := h.calls.Add(1)
		if h.fail.Load() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": fiber.Map{"kind": "StorageUnavailable"}})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"new_balance": "10.00", "call": n})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return h, cleanup
}

func postUpdate(t *testing.T, app *fiber.App, key, body string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/wallet/update", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload), resp.Header.Get("Idempotent-Replayed")
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	h, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, _, _ := postUpdate(t, h.app, "", `{"user_id":"u1"}`)
		if status != fiber.StatusOK {
			t.Fatalf("expected %d got %d", fiber.StatusOK, status)
		}
	}
	if got := h.calls.Load(); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	h, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload, _ := postUpdate(t, h.app, "abc123", `{"user_id":"u1"}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	status2, cachedPayload, replayed := postUpdate(t, h.app, "abc123", `{"user_id":"u1"}`)
	if status2 != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status2)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if replayed != "true" {
		t.Fatalf("expected replay marker on cached response")
	}
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	h, cleanup := setupTestApp(t)
	defer cleanup()

	if status, _, _ := postUpdate(t, h.app, "k1", `{"user_id":"u1","amount":1}`); status != fiber.StatusOK {
		t.Fatalf("first request status %d", status)
	}
	status, _, _ := postUpdate(t, h.app, "k1", `{"user_id":"u1","amount":2}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}
}

func TestIdempotencyReleasesKeyAfterServerFailure(t *testing.T) {
	h, cleanup := setupTestApp(t)
	defer cleanup()

	h.fail.Store(true)
	if status, _, _ := postUpdate(t, h.app, "retry-me", `{}`); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected %d got %d", fiber.StatusServiceUnavailable, status)
	}

	h.fail.Store(false)
	status, _, replayed := postUpdate(t, h.app, "retry-me", `{}`)
	if status != fiber.StatusOK || replayed != "" {
		t.Fatalf("expected a fresh successful attempt, got %d (replayed=%q)", status, replayed)
	}
	if got := h.calls.Load(); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}
