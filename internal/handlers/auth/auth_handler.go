// internal/handlers/auth/auth_handler.go
package auth

import (
	"errors"
	"net/http"

	"paywall-service/internal/domain/user"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/response"
	service "paywall-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req user.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, xerrors.ErrBlacklisted):
			response.Forbidden(c, "registration is not available for this account")
		case errors.Is(err, xerrors.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "failed to register", err)
		default:
			response.Error(c, http.StatusInternalServerError, "failed to register", err)
		}
		return
	}

	response.Success(c, http.StatusCreated, "registered successfully", result)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req user.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, xerrors.ErrUnauthorized) {
			response.Unauthorized(c, "invalid email or password")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to login", err)
		return
	}

	response.Success(c, http.StatusOK, "logged in successfully", result)
}
