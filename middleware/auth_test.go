package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

const testSecret = "test-secret"

func TestJWTMiddlewareAndRoles(t *testing.T) {
	app := fiber.New()
	app.Use(JWTMiddleware(testSecret))
	app.Get("/desk", RequireDispatcherOrAbove(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/admin", RequireOwnerOrAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	guideID := uint(4)
	dispatcher, err := GenerateToken(testSecret, time.Hour, "u-1", "Dee", RoleDispatcher, nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	guide, _ := GenerateToken(testSecret, time.Hour, "u-2", "Ana", RoleGuide, &guideID)
	expired, _ := GenerateToken(testSecret, -time.Minute, "u-1", "Dee", RoleDispatcher, nil)
	foreign, _ := GenerateToken("other-secret", time.Hour, "u-1", "Dee", RoleAdmin, nil)
	guideless, _ := GenerateToken(testSecret, time.Hour, "u-3", "Bo", RoleGuide, nil)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/desk", "", fiber.StatusUnauthorized},
		{"not bearer", "/desk", "Token " + dispatcher, fiber.StatusUnauthorized},
		{"dispatcher on desk", "/desk", "Bearer " + dispatcher, fiber.StatusOK},
		{"dispatcher on admin", "/admin", "Bearer " + dispatcher, fiber.StatusForbidden},
		{"guide on desk", "/desk", "Bearer " + guide, fiber.StatusForbidden},
		{"expired", "/desk", "Bearer " + expired, fiber.StatusUnauthorized},
		{"wrong secret", "/admin", "Bearer " + foreign, fiber.StatusUnauthorized},
		{"guide without id", "/desk", "Bearer " + guideless, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	if _, err := GenerateToken("", time.Hour, "s", "n", RoleAdmin, nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
