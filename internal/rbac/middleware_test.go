package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callintel/internal/auth"

	"github.com/gin-gonic/gin"
)

func routeAs(role, min string) int {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "u", Role: role}))
		}
		c.Next()
	}, RequireRole(min), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireRole_AdminBypasses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if code := routeAs(RoleAdmin, RoleAdmin); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireRole_OperatorCanReprocessButNotConfigure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if code := routeAs(RoleOperator, RoleOperator); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := routeAs(RoleOperator, RoleAdmin); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireRole_UnknownAndMissingRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if code := routeAs("intern", RoleViewer); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := routeAs("", RoleViewer); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
