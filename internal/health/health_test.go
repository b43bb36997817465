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

	"github.com/MrWong99/convene/internal/resilience"
	"github.com/MrWong99/convene/pkg/store/memstore"
	storemock "github.com/MrWong99/convene/pkg/store/mock"
)

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

func TestHealthz(t *testing.T) {
	t.Parallel()

	failing := Checker{Name: "store", Check: func(context.Context) error { return errors.New("down") }}
	code, body := serve(t, New(failing), "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })
	broken := &storemock.Store{PingErr: errors.New("connection refused")}

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
			checkers:   []Checker{PingChecker("store", st)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{PingChecker("store", broken), {Name: "blob", Check: func(context.Context) error { return nil }}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "blob": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Fatalf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_Timeout(t *testing.T) {
	t.Parallel()

	slow := Checker{Name: "blob", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	code, body := serve(t, New(slow).WithTimeout(20*time.Millisecond), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if !strings.Contains(body.Checks["blob"], "deadline exceeded") {
		t.Errorf("checks[blob] = %q", body.Checks["blob"])
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		Now:          func() time.Time { return now },
	})
	check := BreakerChecker("model", cb)

	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker failed check: %v", err)
	}
	_ = cb.Execute(func() error { return errors.New("boom") })
	if err := check.Check(context.Background()); err == nil {
		t.Error("open breaker passed check")
	}
}
