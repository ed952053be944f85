package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/usecase"
)

// requesterHeader identifies the principal performing the call on behalf of
// the edge gateway. It feeds the credential's updater field.
const requesterHeader = "X-Requester-Id"

// CredentialHandler exposes the credential lifecycle endpoints.
type CredentialHandler struct {
	credentials *usecase.CredentialService
}

func NewCredentialHandler(credentials *usecase.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

func requester(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(requesterHeader))
}

var preconditionCases = []ErrorCase{
	{Err: domain.ErrCredentialExists, Status: http.StatusPreconditionFailed, Message: "a credential already exists for this principal"},
	{Err: domain.ErrCredentialNotFound, Status: http.StatusPreconditionFailed, Message: "no credential found for this principal"},
	{Err: domain.ErrLoginTaken, Status: http.StatusPreconditionFailed, Message: "login is already in use"},
}

var policyCases = []ErrorCase{
	{Err: domain.ErrLoginInPassword, Status: http.StatusBadRequest, Message: "login must not be part of the password"},
	{Err: domain.ErrWeakPassword, Status: http.StatusBadRequest, Message: "password is too weak"},
	{Err: domain.ErrReusedPassword, Status: http.StatusBadRequest, Message: "password was used too recently"},
}

var confirmationCases = []ErrorCase{
	{Err: domain.ErrPasswordConfirmationRequired, Status: http.StatusBadRequest, Message: "current password is required"},
	{Err: domain.ErrPasswordConfirmationFailed, Status: http.StatusForbidden, Message: "current password verification failed"},
}

// Create registers a credential for a principal.
func (h *CredentialHandler) Create(c *gin.Context) {
	kuid := c.Param("kuid")

	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid credential payload"))
		return
	}

	candidate := usecase.CredentialCandidate{Login: req.Username, Secret: req.Password}

	if err := h.credentials.Validate(c.Request.Context(), candidate, kuid, false); err != nil {
		h.respondValidationError(c, err)
		return
	}

	projection, err := h.credentials.Create(c.Request.Context(), candidate, kuid, requester(c))
	if err != nil {
		RespondWithMappedError(c, err, preconditionCases, http.StatusInternalServerError, "failed to create credential")
		return
	}

	c.JSON(http.StatusCreated, CredentialResponse{Username: projection.Login, Kuid: projection.PrincipalID})
}

// Update rotates the secret, renames the login, or both.
func (h *CredentialHandler) Update(c *gin.Context) {
	kuid := c.Param("kuid")

	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid credential payload"))
		return
	}

	candidate := usecase.CredentialCandidate{
		Login:         req.Username,
		Secret:        req.Password,
		CurrentSecret: req.CurrentPassword,
	}

	if err := h.credentials.Validate(c.Request.Context(), candidate, kuid, true); err != nil {
		h.respondValidationError(c, err)
		return
	}

	projection, err := h.credentials.Update(c.Request.Context(), candidate, kuid, requester(c))
	if err != nil {
		cases := append(append([]ErrorCase{}, confirmationCases...), preconditionCases...)
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to update credential")
		return
	}

	c.JSON(http.StatusOK, CredentialResponse{Username: projection.Login, Kuid: projection.PrincipalID})
}

// Delete removes the principal's credential.
func (h *CredentialHandler) Delete(c *gin.Context) {
	kuid := c.Param("kuid")

	var req DeleteCredentialRequest
	_ = c.ShouldBindJSON(&req)

	err := h.credentials.Delete(c.Request.Context(), kuid, req.CurrentPassword)
	if err != nil {
		cases := append(append([]ErrorCase{}, confirmationCases...), preconditionCases...)
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to delete credential")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "credential deleted"})
}

// Validate dry-runs a candidate against policies without persisting.
func (h *CredentialHandler) Validate(c *gin.Context) {
	kuid := c.Param("kuid")

	var req struct {
		CredentialRequest
		IsUpdate bool `json:"isUpdate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid credential payload"))
		return
	}

	candidate := usecase.CredentialCandidate{Login: req.Username, Secret: req.Password}
	if err := h.credentials.Validate(c.Request.Context(), candidate, kuid, req.IsUpdate); err != nil {
		h.respondValidationError(c, err)
		return
	}

	c.JSON(http.StatusOK, ValidResponse{Valid: true})
}

// Exists reports whether the principal has a credential.
func (h *CredentialHandler) Exists(c *gin.Context) {
	exists, err := h.credentials.Exists(c.Request.Context(), c.Param("kuid"))
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to check credential")
		return
	}

	c.JSON(http.StatusOK, ExistsResponse{Exists: exists})
}

// GetInfo returns the public view of the principal's credential.
func (h *CredentialHandler) GetInfo(c *gin.Context) {
	info, err := h.credentials.GetInfo(c.Request.Context(), c.Param("kuid"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: domain.ErrCredentialNotFound, Status: http.StatusNotFound, Message: "no credential found for this principal"},
		}, http.StatusInternalServerError, "failed to read credential")
		return
	}

	c.JSON(http.StatusOK, infoResponse(info))
}

// GetByLogin returns the public view of the credential under a login.
func (h *CredentialHandler) GetByLogin(c *gin.Context) {
	info, err := h.credentials.GetByLogin(c.Request.Context(), c.Param("username"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: domain.ErrCredentialNotFound, Status: http.StatusNotFound, Message: "no credential found for this login"},
		}, http.StatusInternalServerError, "failed to read credential")
		return
	}

	c.JSON(http.StatusOK, infoResponse(info))
}

// Login verifies a username and password pair.
func (h *CredentialHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	kuid, err := h.credentials.Verify(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Kuid: kuid})
}

// ResetPassword rotates a secret authorized by a reset token and logs the
// principal in with the new secret.
func (h *CredentialHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset payload"))
		return
	}

	kuid, err := h.credentials.ResetPassword(c.Request.Context(), req.Password, req.Token)
	if err != nil {
		var cases []ErrorCase
		cases = append(cases, policyCases...)
		cases = append(cases,
			ErrorCase{Err: domain.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "invalid token"},
			ErrorCase{Err: domain.ErrExpiredToken, Status: http.StatusUnauthorized, Message: "expired token"},
			ErrorCase{Err: domain.ErrCredentialNotFound, Status: http.StatusPreconditionFailed, Message: "no credential found for this principal"},
		)
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Kuid: kuid})
}

// IssueResetToken hands out a reset token for an existing credential.
func (h *CredentialHandler) IssueResetToken(c *gin.Context) {
	token, err := h.credentials.IssueResetToken(c.Request.Context(), c.Param("kuid"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: domain.ErrCredentialNotFound, Status: http.StatusPreconditionFailed, Message: "no credential found for this principal"},
		}, http.StatusInternalServerError, "failed to issue reset token")
		return
	}

	c.JSON(http.StatusOK, ResetTokenResponse{Token: token})
}

func (h *CredentialHandler) respondValidationError(c *gin.Context, err error) {
	cases := append(append([]ErrorCase{}, policyCases...), preconditionCases...)
	RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to validate credential")
}

// respondLoginError keeps the uniform wrong-username-or-password answer and
// attaches reset tokens to policy-blocked logins.
func (h *CredentialHandler) respondLoginError(c *gin.Context, err error) {
	var expired *domain.ExpiredPasswordError
	if errors.As(err, &expired) {
		c.JSON(http.StatusUnauthorized, LoginFailureResponse{
			Error:      "expired password",
			Code:       "ExpiredPassword",
			ResetToken: expired.ResetToken,
		})
		return
	}

	var mustChange *domain.MustChangePasswordError
	if errors.As(err, &mustChange) {
		c.JSON(http.StatusUnauthorized, LoginFailureResponse{
			Error:      "password change required",
			Code:       "MustChangePassword",
			ResetToken: mustChange.ResetToken,
		})
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: domain.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "wrong username or password"},
	}, http.StatusInternalServerError, "failed to verify credentials")
}

func infoResponse(info *usecase.CredentialInfo) CredentialInfoResponse {
	return CredentialInfoResponse{
		Username:  info.Login,
		Kuid:      info.PrincipalID,
		Updater:   info.Updater,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}
}
