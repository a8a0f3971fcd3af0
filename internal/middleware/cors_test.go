package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func TestAllowAnyOrigin(t *testing.T) {
	e := echo.New()
	e.Use(echomw.Recover())
	e.Use(AllowAnyOrigin())
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/err", func(c echo.Context) error {
		return errors.New("boom")
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"handler response", http.MethodGet, "/ok", "", http.StatusOK},
		{"handler error", http.MethodGet, "/err", "", http.StatusInternalServerError},
		{"recovered panic", http.MethodGet, "/panic", "", http.StatusInternalServerError},
		{"route not found", http.MethodGet, "/missing", "", http.StatusNotFound},
		{"method not allowed", http.MethodDelete, "/ok", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
			}
		})
	}
}
