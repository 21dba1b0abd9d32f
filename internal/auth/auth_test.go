package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
)

func TestCallerFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("X-User-ID", "user-1")
	r.Header.Set("X-Tenant-ID", "tenant-1")
	r.Header.Set("X-API-Key-ID", "key-1")

	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		t.Fatalf("CallerFromRequest failed: %v", err)
	}
	if caller.UserID != "user-1" || caller.TenantID != "tenant-1" || caller.APIKeyID != "key-1" {
		t.Errorf("unexpected caller: %+v", caller)
	}
}

func TestCallerFromRequest_MissingUser(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	_, err := auth.CallerFromRequest(r)
	if domain.CodeOf(err) != domain.ErrCodeAuth {
		t.Errorf("expected AUTH, got %v", err)
	}
}

func TestAdminBasicAuth(t *testing.T) {
	hash, err := crypto.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok := false
	handler := auth.AdminBasicAuth("admin", hash, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	r.SetBasicAuth("admin", "s3cret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if !ok || w.Code != http.StatusOK {
		t.Errorf("valid credentials rejected: code %d", w.Code)
	}

	cases := []struct {
		name string
		set  func(*http.Request)
		want int
	}{
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") }, http.StatusUnauthorized},
		{"wrong user", func(r *http.Request) { r.SetBasicAuth("root", "s3cret") }, http.StatusUnauthorized},
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
		tc.set(r)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}

func TestAdminBasicAuth_DisabledWithoutHash(t *testing.T) {
	handler := auth.AdminBasicAuth("admin", "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	r.SetBasicAuth("admin", "anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when no hash configured, got %d", w.Code)
	}
}
