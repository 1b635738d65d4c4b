package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stakeflow/stakeflow/internal/logging"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func setupIdempotentApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	cache, _ := newRedis(t)
	var calls int32

	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/approve", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"call": n})
	})
	app.Post("/stake", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusBadGateway, "rpc down")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyPassesWithoutHeader(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, "/approve", ""); status != fiber.StatusAccepted {
			t.Fatalf("expected %d got %d", fiber.StatusAccepted, status)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	status, first := post(t, app, "/approve", "abc123")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected status %d got %d", fiber.StatusAccepted, status)
	}

	// The repeat must not reach the handler.
	status, second := post(t, app, "/approve", "abc123")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected cached status %d got %d", fiber.StatusAccepted, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected a single handler call, got %d", got)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, "/stake", "retry-me"); status != fiber.StatusBadGateway {
			t.Fatalf("expected %d got %d", fiber.StatusBadGateway, status)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected retry to reach handler, calls %d", got)
	}
}

func TestIdempotencyKeysAreScopedPerRoute(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	post(t, app, "/approve", "shared")
	post(t, app, "/stake", "shared")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected both routes to run, calls %d", got)
	}
}
