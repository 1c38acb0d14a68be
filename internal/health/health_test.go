package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/resilience"
)

func ok(context.Context) error { return nil }

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "session", Check: func(context.Context) error { return errors.New("stuck") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "session", Check: ok}, {Name: "remote", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"session": "ok", "remote": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "session", Check: ok},
				{Name: "remote", Check: func(context.Context) error { return errors.New("circuit open") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "ok", "remote": "fail: circuit open"},
		},
		{
			name:       "panic is a failure",
			checkers:   []Checker{{Name: "session", Check: func(context.Context) error { panic("nil controller") }}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "fail: check panicked: nil controller"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	h := New(
		Checker{Name: "a", Check: func(ctx context.Context) error { <-release; return nil }},
		Checker{Name: "b", Check: func(ctx context.Context) error { close(release); return nil }},
	)
	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("status = %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("checks ran sequentially")
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

type proberFunc func(time.Duration) error

func (f proberFunc) CheckTeardown(limit time.Duration) error { return f(limit) }

func TestSessionChecker(t *testing.T) {
	t.Parallel()
	var gotLimit time.Duration
	c := SessionChecker(proberFunc(func(limit time.Duration) error {
		gotLimit = limit
		return errors.New("teardown running for 12s")
	}), 10*time.Second)

	if c.Name != "session" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check = nil, want failure")
	}
	if gotLimit != 10*time.Second {
		t.Errorf("limit = %v", gotLimit)
	}
}

func TestRemoteChecker(t *testing.T) {
	t.Parallel()
	b := resilience.New(resilience.Config{MaxFailures: 1, ResetTimeout: time.Hour})
	c := RemoteChecker(b)
	if c.Name != "remote" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}

	_ = b.Execute(func() error { return errors.New("dial: connection refused") })
	err := c.Check(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("open breaker = %v, want ErrCircuitOpen", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error %q does not carry the last failure", err)
	}
}
