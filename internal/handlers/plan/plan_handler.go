// internal/handlers/plan/plan_handler.go
package plan

import (
	"errors"
	"net/http"
	"strconv"

	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/response"
	"paywall-service/internal/repository/postgres"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	plans *postgres.PlanRepository
}

func NewPlanHandler(plans *postgres.PlanRepository) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// ListPlans returns active, non-hidden plans. Public endpoint.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.plans.ListVisible(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans loaded", plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid plan id", err)
		return
	}

	p, err := h.plans.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "plan not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan loaded", p)
}
