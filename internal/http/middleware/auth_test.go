// README: Tests for the auth middleware and role gates.
package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/http/middleware"
	"github.com/if929hong-bot/baba-taxi/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	ident *infra.Identity
	err   error
	seen  string
}

func (s *stubVerifier) VerifyToken(_ context.Context, token string) (*infra.Identity, error) {
	s.seen = token
	return s.ident, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": middleware.CallerID(c), "role": middleware.CallerRole(c)})
	})
	r.GET("/drivers-only", middleware.RequireRole(infra.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{ident: &infra.Identity{ID: "user1", Role: infra.RolePassenger}})
	if w := get(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{ident: &infra.Identity{ID: "user1", Role: infra.RolePassenger}})
	if w := get(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := get(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_IdentityPopulated(t *testing.T) {
	v := &stubVerifier{ident: &infra.Identity{ID: "driver123", Role: infra.RoleDriver, FleetID: "f1"}}
	r := newTestRouter(v)
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v.seen != "validtoken" {
		t.Errorf("verifier got %q", v.seen)
	}
	body := w.Body.String()
	if !strings.Contains(body, "driver123") || !strings.Contains(body, `"role":"driver"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestRequireRole(t *testing.T) {
	passenger := newTestRouter(&stubVerifier{ident: &infra.Identity{ID: "p1", Role: infra.RolePassenger}})
	if w := get(passenger, "/drivers-only", "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	driver := newTestRouter(&stubVerifier{ident: &infra.Identity{ID: "d1", Role: infra.RoleDriver, FleetID: "f1"}})
	if w := get(driver, "/drivers-only", "Bearer t"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestRecoveryAndLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	r := gin.New()
	r.Use(middleware.Logging(log), middleware.Recovery(log))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := get(r, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "kaboom") || !strings.Contains(out, `"status":500`) {
		t.Errorf("log output missing fields: %s", out)
	}
}
