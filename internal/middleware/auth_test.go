package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := AuthMiddleware(ok)

	tests := []struct {
		name   string
		path   string
		cookie bool
		header map[string]string
		want   int
	}{
		{"login page is public", "/login", false, nil, http.StatusOK},
		{"detection endpoint is public", "/yolo", false, nil, http.StatusOK},
		{"metrics are public", "/metrics", false, nil, http.StatusOK},
		{"camera upload is public", "/camera/upload", false, nil, http.StatusOK},
		{"auth endpoints are public", "/auth/login", false, nil, http.StatusOK},
		{"api without cookie", "/api/latest", false, nil, http.StatusUnauthorized},
		{"ajax without cookie", "/settings", false, map[string]string{"X-Requested-With": "XMLHttpRequest"}, http.StatusUnauthorized},
		{"page without cookie redirects", "/settings", false, nil, http.StatusSeeOther},
		{"api with cookie", "/api/latest", true, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie {
				req.AddCookie(&http.Cookie{Name: AuthCookie, Value: "true"})
			}
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
