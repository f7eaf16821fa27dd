package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func statusTransport(code int) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		rec.WriteHeader(code)
		return rec.Result(), nil
	})
}

type fakeSession struct {
	authenticated atomic.Bool
	clears        atomic.Int32
	transitions   atomic.Int32
}

func (s *fakeSession) isAuthenticated() bool { return s.authenticated.Load() }

func (s *fakeSession) forcedClear() bool {
	s.clears.Add(1)
	if s.authenticated.CompareAndSwap(true, false) {
		s.transitions.Add(1)
		return true
	}
	return false
}

func TestUnauthorizedInterceptor(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		authenticated bool
		wantClears    int32
		wantAuth      bool
	}{
		{name: "401 while authenticated clears", status: http.StatusUnauthorized, authenticated: true, wantClears: 1, wantAuth: false},
		{name: "401 while anonymous is ignored", status: http.StatusUnauthorized, authenticated: false, wantClears: 0, wantAuth: false},
		{name: "403 does not clear", status: http.StatusForbidden, authenticated: true, wantClears: 0, wantAuth: true},
		{name: "200 does not clear", status: http.StatusOK, authenticated: true, wantClears: 0, wantAuth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{}
			s.authenticated.Store(tt.authenticated)

			rt := NewUnauthorizedInterceptor(statusTransport(tt.status), s.isAuthenticated, s.forcedClear, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "http://api/auth/me", nil)
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode, "response must be passed through unchanged")

			assert.Equal(t, tt.wantClears, s.clears.Load())
			assert.Equal(t, tt.wantAuth, s.authenticated.Load())
		})
	}
}

func TestUnauthorizedInterceptor_TransportErrorPassesThrough(t *testing.T) {
	s := &fakeSession{}
	s.authenticated.Store(true)

	boom := errors.New("connection refused")
	rt := NewUnauthorizedInterceptor(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	}), s.isAuthenticated, s.forcedClear, nil)

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api/credits/balance", nil))
	require.ErrorIs(t, err, boom)
	assert.True(t, s.authenticated.Load())
	assert.Zero(t, s.clears.Load())
}

func TestUnauthorizedInterceptor_ConcurrentRejectionsTransitionOnce(t *testing.T) {
	s := &fakeSession{}
	s.authenticated.Store(true)

	rt := NewUnauthorizedInterceptor(statusTransport(http.StatusUnauthorized), s.isAuthenticated, s.forcedClear, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api/credits/history", nil))
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), s.transitions.Load())
	assert.False(t, s.authenticated.Load())
}

func TestLoggerMiddleware(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
