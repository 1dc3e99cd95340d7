package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	h := CORS([]string{"http://Localhost:3000"})(ok())

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))
}

func TestCORSWildcardAndPreflight(t *testing.T) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	h := CORS([]string{"*"})(Auth("secret")(next))

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://anywhere.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, reached)

	req = httptest.NewRequest(http.MethodPost, "/api/pools", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, reached)
}

func TestAuthAcceptsBearerAndHeader(t *testing.T) {
	h := Auth("secret", "/api/health")(ok())
	cases := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"public path", "/api/health", [2]string{}, http.StatusOK},
		{"missing token", "/api/pools", [2]string{}, http.StatusUnauthorized},
		{"bearer", "/api/pools", [2]string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/pools", [2]string{"X-API-Key", "secret"}, http.StatusOK},
		{"wrong key", "/api/pools", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
