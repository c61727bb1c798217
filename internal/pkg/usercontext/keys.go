package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext   = "USER_CONTEXT"
	KeyOwnerID       = "owner_id"
	KeyFromProtected = "from_protected"
)
