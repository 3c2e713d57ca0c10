package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAuthJWT(t *testing.T) {
	const secret = "test-secret"
	valid, err := SignToken(secret, "user-42", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	expired, err := SignToken(secret, "user-42", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	forged, err := SignToken("other-secret", "user-42", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	var seenUser string
	h := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + valid, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "forged", header: "Bearer " + forged, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer " + strings.Repeat("x", 20), want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seenUser = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
			if tc.want == http.StatusOK && seenUser != "user-42" {
				t.Fatalf("user id = %q", seenUser)
			}
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id = %q / %q", seen, rr.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 100))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if len(seen) != 36 {
		t.Fatalf("oversized id not replaced: %q", seen)
	}
}
