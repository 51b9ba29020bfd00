package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crownarena/server/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()
	RespondJSON(w, http.StatusOK, map[string]int{"online": 3})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":3}`, w.Body.String())

	w = httptest.NewRecorder()
	RespondJSON(w, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestRespondError(t *testing.T) {
	t.Run("AppError maps to correct status", func(t *testing.T) {
		tests := []struct {
			err        *domain.AppError
			wantStatus int
			wantCode   string
		}{
			{domain.ErrRoomNotFound("b1"), 404, "ROOM_NOT_FOUND"},
			{domain.ErrValidation("bad input"), 400, "VALIDATION_ERROR"},
			{domain.ErrUnauthorized("no token"), 401, "UNAUTHORIZED"},
			{domain.ErrRateLimited("slow down"), 429, "RATE_LIMITED"},
			{domain.ErrCatalogUnavailable(nil), 503, "CATALOG_UNAVAILABLE"},
			{domain.ErrInternal("oops", nil), 500, "INTERNAL_ERROR"},
		}

		for _, tt := range tests {
			t.Run(tt.wantCode, func(t *testing.T) {
				w := httptest.NewRecorder()
				RespondError(w, tt.err)
				assert.Equal(t, tt.wantStatus, w.Code)

				var body map[string]string
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body["code"])
			})
		}
	})

	t.Run("generic error returns 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "INTERNAL_ERROR", body["code"])
		assert.Equal(t, "internal server error", body["message"])
	})
}

type stubChecker struct{ err error }

func (s stubChecker) Check(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		want    int
		status  string
	}{
		{"no database", nil, http.StatusOK, "healthy"},
		{"database up", stubChecker{}, http.StatusOK, "healthy"},
		{"database down", stubChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler(tt.checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.want, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"minted", ""},
		{"propagated", "lobby-req-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.incoming != "" {
				r.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.NotEmpty(t, seen)
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, seen)
			}
			assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
		})
	}
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestJSONContentType(t *testing.T) {
	handler := JSONContentType(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("wildcard echoes origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://play.example.com")
		w := httptest.NewRecorder()
		CORS([]string{"*"})(ok).ServeHTTP(w, r)

		assert.Equal(t, "https://play.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		CORS([]string{"https://play.example.com"})(ok).ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("OPTIONS returns 204", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		w := httptest.NewRecorder()
		CORS([]string{"*"})(ok).ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseOrigins(" https://a.example, ,https://b.example "))
	assert.Nil(t, ParseOrigins(""))
}

func TestRecovery(t *testing.T) {
	mw := Recovery(noopLogger())

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("nil roster")
		})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), domain.CodeInternal)

	w = httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestResponseWriter_RecordsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.WriteHeader(http.StatusTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, rw.status)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRemoteKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	assert.Equal(t, "10.0.0.1", remoteKey(r))

	r.RemoteAddr = "10.0.0.1"
	assert.Equal(t, "10.0.0.1", remoteKey(r))
}

// helper

func noopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
