package runtime

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadyzReportsFailingChecks(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "amqp", Check: func(context.Context) error { return errors.New("connection closed") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), "amqp: connection closed") {
		t.Fatalf("unexpected body: %q", rw.Body.String())
	}

	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rw.Code)
	}
}

func TestCheckAllSkipsNilChecks(t *testing.T) {
	if err := CheckAll(context.Background(), ReadyCheck{Name: "unset"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" {
		t.Fatal("expected debug level")
	}
	if parseLevel("").String() != "INFO" {
		t.Fatal("expected info default")
	}
}

func TestShutdownGetsItsOwnDeadline(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var hadDeadline bool
	Shutdown(logger, "otel", time.Second, func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return errors.New("exporter gone")
	})
	if !hadDeadline {
		t.Fatal("shutdown context must carry a deadline")
	}
	if !strings.Contains(buf.String(), "step=otel") {
		t.Fatalf("failure not logged: %s", buf.String())
	}
	Shutdown(logger, "nothing", time.Second, nil)
}
