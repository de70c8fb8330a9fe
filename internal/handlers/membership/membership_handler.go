// internal/handlers/membership/membership_handler.go
package membership

import (
	"errors"
	"net/http"

	memdomain "paywall-service/internal/domain/membership"
	"paywall-service/internal/middleware"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/response"
	"paywall-service/internal/repository/postgres"

	"github.com/gin-gonic/gin"
)

type MembershipHandler struct {
	memberships *postgres.MembershipRepository
	purchases   *postgres.PurchaseRepository
}

func NewMembershipHandler(memberships *postgres.MembershipRepository, purchases *postgres.PurchaseRepository) *MembershipHandler {
	return &MembershipHandler{
		memberships: memberships,
		purchases:   purchases,
	}
}

// GetMembership returns the caller's membership record.
func (h *MembershipHandler) GetMembership(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	rec, err := h.memberships.FindByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			// Registration seeds the row, but tolerate older accounts.
			rec = &memdomain.Record{UserID: userID, Status: memdomain.StatusNone}
		} else {
			response.Error(c, http.StatusInternalServerError, "failed to load membership", err)
			return
		}
	}

	response.Success(c, http.StatusOK, "membership loaded", rec)
}

// ListPurchases returns the caller's confirmed purchases.
func (h *MembershipHandler) ListPurchases(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	records, err := h.purchases.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list purchases", err)
		return
	}

	response.Success(c, http.StatusOK, "purchases loaded", records)
}
