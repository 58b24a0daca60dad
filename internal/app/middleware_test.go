package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/workshop/internal/shared"
)

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		header string
		status int
		actor  int64
	}{
		{"anonymous read", http.MethodGet, "", http.StatusNoContent, 0},
		{"write with actor", http.MethodPost, "7", http.StatusNoContent, 7},
		{"write without actor", http.MethodPost, "", http.StatusUnauthorized, 0},
		{"malformed actor", http.MethodPost, "abc", http.StatusBadRequest, 0},
		{"non-positive actor", http.MethodGet, "0", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(tc.method, "/api/parts", nil)
			if tc.header != "" {
				req.Header.Set(ActorHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.actor, seen)
		})
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{Logger: NewLogger(nil), Config: &Config{RateLimitPerMinute: 100}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/parts", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigValidation(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/workshop")
	t.Setenv("LEDGER_MAX_RETRIES", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_MAX_RETRIES", "4")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.LedgerMaxRetries)
	require.False(t, cfg.IsProduction())
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
