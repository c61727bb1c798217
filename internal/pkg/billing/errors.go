package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWebhookSecretMissing  = errors.New("webhook secret is not configured")
	ErrMissingSignature      = errors.New("webhook signature header is missing")
	ErrInvalidSignature      = errors.New("webhook signature is invalid")
	ErrProviderNotConfigured = errors.New("billing provider is not configured")
)

// APIError is a non-2xx response from the billing provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("billing provider request failed: status=%d message=%s", e.StatusCode, e.Message)
}

// ErrorClass groups provider failures by how callers should react.
type ErrorClass string

const (
	ErrorClassNotFound    ErrorClass = "not_found"
	ErrorClassForbidden   ErrorClass = "forbidden"
	ErrorClassServerError ErrorClass = "server_error"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// ClassifyProviderError maps a provider error to its class by status code.
func ClassifyProviderError(err error) ErrorClass {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ErrorClassUnknown
	}
	switch {
	case apiErr.StatusCode == http.StatusNotFound:
		return ErrorClassNotFound
	case apiErr.StatusCode == http.StatusForbidden:
		return ErrorClassForbidden
	case apiErr.StatusCode >= 500:
		return ErrorClassServerError
	default:
		return ErrorClassUnknown
	}
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	return ClassifyProviderError(err) == ErrorClassNotFound
}

// OperationKind tells API callers which class of failure occurred.
type OperationKind string

const (
	OperationNoop           OperationKind = "noop"
	OperationNotAllowed     OperationKind = "not_allowed"
	OperationRetryLater     OperationKind = "retry_later"
	OperationContactSupport OperationKind = "contact_support"
	OperationForbidden      OperationKind = "forbidden"
	OperationInvalid        OperationKind = "invalid"
)

// OperationError is a user-facing failure of a billing operation.
type OperationError struct {
	Kind    OperationKind
	Code    string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func newOperationError(kind OperationKind, code, message string) *OperationError {
	return &OperationError{Kind: kind, Code: code, Message: message}
}

// providerOperationError converts a provider failure into a user-facing error.
func providerOperationError(action string, err error) *OperationError {
	switch ClassifyProviderError(err) {
	case ErrorClassNotFound:
		return &OperationError{Kind: OperationNoop, Code: "subscription_not_found", Message: "Subscription not found at the billing provider, nothing to " + action, Err: err}
	case ErrorClassForbidden:
		return &OperationError{Kind: OperationForbidden, Code: "permission_denied", Message: "You do not have permission to " + action + " this subscription", Err: err}
	case ErrorClassServerError:
		return &OperationError{Kind: OperationRetryLater, Code: "provider_unavailable", Message: "The billing provider is temporarily unavailable, please try again later", Err: err}
	default:
		msg := err.Error()
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &OperationError{Kind: OperationContactSupport, Code: "provider_error", Message: "Failed to " + action + " subscription: " + msg + ". Please contact support", Err: err}
	}
}
