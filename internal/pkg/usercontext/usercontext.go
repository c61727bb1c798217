package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated caller of a request
type UserContext struct {
	OwnerID    string `json:"owner_id"`
	SessionID  string `json:"session_id"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// SetUserContext stores the caller on the fiber context
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyFromProtected, uc.IsLoggedIn)
	c.Locals(KeyOwnerID, uc.OwnerID)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if uc, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return uc
	}
	return UserContext{}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetOwnerID returns the caller's external owner id, or "" if anonymous
func GetOwnerID(c *fiber.Ctx) string {
	return GetUserContext(c).OwnerID
}
