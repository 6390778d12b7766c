package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"notes/api/internal/config"
)

func TestHealthAndReadyRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		pingErr    error
		wantStatus int
		wantReady  string
		wantDBErr  string
	}{
		{name: "health", method: http.MethodGet, path: "/api/health", wantStatus: http.StatusOK},
		{name: "ready", method: http.MethodGet, path: "/api/ready", wantStatus: http.StatusOK, wantReady: "ready"},
		{name: "database down", method: http.MethodGet, path: "/api/ready", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantReady: "not_ready", wantDBErr: "connection refused"},
		{name: "preflight on session route", method: http.MethodOptions, path: "/api/sessions/s1/save", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore()
			fs.pingFn = func(context.Context) error { return tt.pingErr }
			server := NewHTTPServer(New(config.Config{TokenSecret: testSecret}, Deps{Store: fs}), "*")

			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
				t.Errorf("CORS origin = %q", origin)
			}
			if tt.wantReady == "" {
				return
			}

			var body struct {
				OK     bool   `json:"ok"`
				Status string `json:"status"`
				Checks map[string]struct {
					Status string `json:"status"`
					Error  string `json:"error"`
				} `json:"checks"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantReady || body.OK != (tt.pingErr == nil) {
				t.Errorf("body = %+v", body)
			}
			if got := body.Checks["database"].Error; got != tt.wantDBErr {
				t.Errorf("database error = %q, want %q", got, tt.wantDBErr)
			}
		})
	}
}
