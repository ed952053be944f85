package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelain/credential-service/internal/infra/logger"
)

// ErrorResponse represents a generic error payload with a request ID for
// correlation.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request id.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	requestID, _ := c.Request.Context().Value(logger.RequestIDKey{}).(string)
	return ErrorResponse{
		Error:     errorMsg,
		RequestID: requestID,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// CredentialRequest is the payload for create, update, and validate calls.
type CredentialRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	CurrentPassword string `json:"currentPassword"`
}

// DeleteCredentialRequest optionally carries the current password when the
// service runs with require_password enabled.
type DeleteCredentialRequest struct {
	CurrentPassword string `json:"currentPassword"`
}

// CredentialResponse is the public projection returned by mutations.
type CredentialResponse struct {
	Username string `json:"username"`
	Kuid     string `json:"kuid"`
}

// CredentialInfoResponse is the public read view of a stored credential.
type CredentialInfoResponse struct {
	Username  string    `json:"username"`
	Kuid      string    `json:"kuid"`
	Updater   string    `json:"updater,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExistsResponse reports credential existence for a principal.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// ValidResponse reports a passing validation.
type ValidResponse struct {
	Valid bool `json:"valid"`
}

// LoginRequest is the payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned for a successful login.
type LoginResponse struct {
	Kuid string `json:"kuid"`
}

// LoginFailureResponse is returned when a valid secret is blocked by an
// expiry or forced-rotation policy. It carries a reset token.
type LoginFailureResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	ResetToken string `json:"resetToken"`
}

// ResetPasswordRequest is the payload for the reset endpoint.
type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// ResetTokenResponse carries a freshly issued reset token.
type ResetTokenResponse struct {
	Token string `json:"token"`
}
