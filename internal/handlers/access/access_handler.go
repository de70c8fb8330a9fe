// internal/handlers/access/access_handler.go
package access

import (
	"errors"
	"net/http"
	"strconv"

	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/middleware"
	"paywall-service/internal/pkg/response"
	service "paywall-service/internal/service/access"

	"github.com/gin-gonic/gin"
)

type AccessHandler struct {
	accessService *service.Service
}

func NewAccessHandler(accessService *service.Service) *AccessHandler {
	return &AccessHandler{accessService: accessService}
}

// CheckAccess evaluates access for the authenticated user and content id.
// Read-only; safe to call on every content view.
func (h *AccessHandler) CheckAccess(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	contentID, err := strconv.ParseInt(c.Param("content_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid content id", err)
		return
	}

	decision, err := h.accessService.Check(c.Request.Context(), userID, contentID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "content not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to evaluate access", err)
		return
	}

	response.Success(c, http.StatusOK, "access evaluated", decision)
}
