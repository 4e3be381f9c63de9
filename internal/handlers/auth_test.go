package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetupAndLoginFlow(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	// Fresh install needs setup.
	rec := httptest.NewRecorder()
	ha.h.CheckSetupRequired(rec, httptest.NewRequest(http.MethodGet, "/api/auth/setup-required", nil))
	if !strings.Contains(rec.Body.String(), `"needsSetup":true`) {
		t.Errorf("setup-required body = %s, want needsSetup:true", rec.Body.String())
	}

	// Configure the password.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(`{"password":"hunter22"}`))
	ha.h.Setup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Setup status = %d: %s", rec.Code, rec.Body.String())
	}

	// Second setup attempt is rejected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(`{"password":"other"}`))
	ha.h.Setup(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("second Setup status = %d, want 403", rec.Code)
	}

	// Wrong password fails.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"wrong"}`))
	ha.h.Login(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	// Correct password sets a session cookie.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"hunter22"}`))
	ha.h.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("login did not set a session cookie")
	}

	// The session validates.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(sessionCookie)
	ha.h.CheckAuth(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("CheckAuth status = %d, want 200", rec.Code)
	}

	// Logout invalidates it.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(sessionCookie)
	ha.h.Logout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(sessionCookie)
	ha.h.CheckAuth(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("CheckAuth after logout status = %d, want 401", rec.Code)
	}
}

func TestSetupPasswordPolicy(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	tests := []struct {
		name     string
		password string
	}{
		{"too short", "abc"},
		{"too long", strings.Repeat("x", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			body := `{"password":"` + tt.password + `"}`
			req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(body))
			ha.h.Setup(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestLoginThrottled(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	setupPassword(t, ha, "hunter22")

	// Drain the limiter's burst with bad attempts.
	throttled := false
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"wrong"}`))
		ha.h.Login(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			throttled = true
			break
		}
	}
	if !throttled {
		t.Error("expected login throttling after repeated attempts")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	setupPassword(t, ha, "hunter22")

	protected := ha.h.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Public paths pass through without a session.
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("public path status = %d, want 200", rec.Code)
	}

	// API paths require a session.
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/libraries", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated API status = %d, want 401", rec.Code)
	}

	// A valid session passes.
	cookie := login(t, ha, "hunter22")
	req := httptest.NewRequest(http.MethodGet, "/api/libraries", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated API status = %d, want 200", rec.Code)
	}
}

func TestChangePasswordInvalidatesSessions(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	setupPassword(t, ha, "hunter22")
	cookie := login(t, ha, "hunter22")

	rec := httptest.NewRecorder()
	body := `{"currentPassword":"hunter22","newPassword":"hunter23"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/password", strings.NewReader(body))
	ha.h.ChangePassword(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ChangePassword status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(cookie)
	ha.h.CheckAuth(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old session status = %d, want 401 after password change", rec.Code)
	}
}

func setupPassword(t *testing.T, ha *harness, password string) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", strings.NewReader(`{"password":"`+password+`"}`))
	ha.h.Setup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup failed: %d %s", rec.Code, rec.Body.String())
	}
}

func login(t *testing.T, ha *harness, password string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"`+password+`"}`))
	ha.h.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}
