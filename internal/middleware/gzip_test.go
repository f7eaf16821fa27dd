package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginHandler отвечает снимком сессии для переданного адреса, как POST /api/session/login.
func loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"isAuthenticated": true,
		"user":            map[string]any{"email": req.Email},
	})
}

func gzipBytes(t *testing.T, b []byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(b)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readBody(t *testing.T, res *http.Response) []byte {
	t.Helper()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return body
}

func TestGzipMiddleware_Login(t *testing.T) {
	payload, err := json.Marshal(loginRequest{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	tests := []struct {
		name            string
		gzipRequest     bool
		acceptEncoding  string
		wantEncoding    string
		wantStatus      int
		wantSessionMail string
	}{
		{
			name:            "gzipped body, gzipped response",
			gzipRequest:     true,
			acceptEncoding:  "gzip, deflate",
			wantEncoding:    "gzip",
			wantStatus:      http.StatusOK,
			wantSessionMail: "a@b.com",
		},
		{
			name:            "gzipped body, plain response",
			gzipRequest:     true,
			wantStatus:      http.StatusOK,
			wantSessionMail: "a@b.com",
		},
		{
			name:            "plain body, gzipped response",
			acceptEncoding:  "gzip",
			wantEncoding:    "gzip",
			wantStatus:      http.StatusOK,
			wantSessionMail: "a@b.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = bytes.NewReader(payload)
			if tt.gzipRequest {
				body = gzipBytes(t, payload)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/session/login", body)
			req.Header.Set("Content-Type", "application/json")
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(loginHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			var snap struct {
				IsAuthenticated bool `json:"isAuthenticated"`
				User            struct {
					Email string `json:"email"`
				} `json:"user"`
			}
			require.NoError(t, json.Unmarshal(readBody(t, res), &snap))
			assert.True(t, snap.IsAuthenticated)
			assert.Equal(t, tt.wantSessionMail, snap.User.Email)
		})
	}
}

func TestGzipMiddleware_NoContent(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/profile/password", strings.NewReader(`{}`))
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, res.Header.Get("Content-Encoding"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestGzipMiddleware_CorruptedRequestBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called)
}

func TestGzipMiddleware_SkipsBinaryContent(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png bytes"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/cover.png", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	assert.Empty(t, res.Header.Get("Content-Encoding"))
	assert.Equal(t, "png bytes", string(readBody(t, res)))
}
