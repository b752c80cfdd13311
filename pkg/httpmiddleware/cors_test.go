package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCORS_AllowOrigin(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		credentials bool
		origin      string
		want        string
	}{
		{name: "any", origins: nil, origin: "https://shop.example.com", want: "*"},
		{name: "any with credentials echoes", origins: []string{"*"}, credentials: true, origin: "https://shop.example.com", want: "https://shop.example.com"},
		{name: "host match", origins: []string{"shop.example.com"}, origin: "https://shop.example.com", want: "https://shop.example.com"},
		{name: "host match ignores case", origins: []string{"Shop.Example.com"}, origin: "https://SHOP.example.com", want: "https://SHOP.example.com"},
		{name: "wildcard subdomain", origins: []string{"*.example.com"}, origin: "https://admin.example.com", want: "https://admin.example.com"},
		{name: "wildcard excludes apex", origins: []string{"*.example.com"}, origin: "https://example.com", want: ""},
		{name: "scheme pattern", origins: []string{"https://shop.example.com"}, origin: "http://shop.example.com", want: ""},
		{name: "host with port", origins: []string{"localhost:*"}, origin: "http://localhost:5173", want: "http://localhost:5173"},
		{name: "other host", origins: []string{"shop.example.com"}, origin: "https://evil.test", want: ""},
		{name: "garbage origin", origins: []string{"shop.example.com"}, origin: "null", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCORSPolicy(CORSConfig{Origins: tt.origins, Credentials: tt.credentials})
			assert.Equal(t, tt.want, p.allowOrigin(tt.origin))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(CORSConfig{
		Origins:     []string{"shop.example.com"},
		Headers:     []string{"Content-Type"},
		Credentials: true,
		MaxAge:      10 * time.Minute,
	})(okHandler())

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
		assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
		assert.Contains(t, w.Header().Values("Vary"), "Origin")
	})

	t.Run("denied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
		req.Header.Set("Origin", "https://evil.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_ActualRequest(t *testing.T) {
	h := CORS(CORSConfig{Expose: []string{"X-Request-ID"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, w.Header().Values("Vary"))
}

func TestCORS_NoOrigin(t *testing.T) {
	h := CORS(CORSConfig{Origins: []string{"shop.example.com"}})(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"Origin"}, w.Header().Values("Vary"))
}
