package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoints(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	checker := NewHealthEndpoints(map[string]string{"app": up.URL, "worker": down.URL}, time.Second)
	ctx := context.Background()

	if err := checker.CheckTarget(ctx, "app"); err != nil {
		t.Errorf("healthy target: %v", err)
	}
	if err := checker.CheckTarget(ctx, "worker"); err == nil {
		t.Error("502 target reported healthy")
	}
	if err := checker.CheckTarget(ctx, "cron"); !errors.Is(err, ErrNoHealthEndpoint) {
		t.Errorf("unknown target error = %v, want ErrNoHealthEndpoint", err)
	}
}
