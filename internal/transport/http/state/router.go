package statehttp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"legbook/internal/exitengine"
	"legbook/internal/logger"
	"legbook/internal/pnl"
	"legbook/internal/service/legs"
	"legbook/internal/store"
	"legbook/internal/types"
)

// Router exposes the strategy-state endpoints. Reads go straight to the
// store; mutations go through the leg service.
type Router struct {
	store   store.StateStore
	service *legs.Service
}

func NewRouter(st store.StateStore, service *legs.Service) *Router {
	return &Router{store: st, service: service}
}

// Register mounts the routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/strategy-state", r.handleList)
	group.GET("/strategy-state/:instance_id", r.handleGet)
	group.DELETE("/strategy-state/:instance_id", r.handleDelete)
	group.POST("/strategy-state/:instance_id/manual-leg", r.handleAddManualLeg)
	group.POST("/strategy-state/:instance_id/leg/:leg_key/manual-exit", r.handleManualExit)
	group.POST("/strategy-state/:instance_id/override", r.handleCreateOverride)
	group.GET("/strategy-state/:instance_id/overrides", r.handleListOverrides)
}

// stateView is a stored state plus its derived summary, the shape every read
// endpoint returns.
type stateView struct {
	types.StrategyState
	Summary pnl.Summary `json:"summary"`
}

func viewOf(state types.StrategyState) stateView {
	return stateView{StrategyState: state, Summary: pnl.Summarize(state)}
}

func (r *Router) handleList(c *gin.Context) {
	states, err := r.store.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]stateView, 0, len(states))
	for _, state := range states {
		views = append(views, viewOf(state))
	}
	respondOK(c, "", views)
}

func (r *Router) handleGet(c *gin.Context) {
	state, err := r.store.Get(c.Request.Context(), c.Param("instance_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "", viewOf(*state))
}

func (r *Router) handleDelete(c *gin.Context) {
	instanceID := c.Param("instance_id")
	if err := r.store.Delete(c.Request.Context(), instanceID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, fmt.Sprintf("Strategy state deleted: %s", instanceID), nil)
}

func (r *Router) handleAddManualLeg(c *gin.Context) {
	var req addManualLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Request body is required")
		return
	}
	leg, err := r.service.AddManualLeg(c.Request.Context(), c.Param("instance_id"), req.toParams())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Manual leg added successfully", leg)
}

func (r *Router) handleManualExit(c *gin.Context) {
	var req manualExitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Request body is required")
		return
	}
	state, err := r.service.ManualExitLeg(c.Request.Context(), c.Param("instance_id"), c.Param("leg_key"), legs.ManualExitLegParams{
		ExitPrice:    req.ExitPrice,
		ExitStatus:   req.ExitStatus,
		ExitAtMarket: req.ExitAtMarket,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Position exited successfully", viewOf(*state))
}

func (r *Router) handleCreateOverride(c *gin.Context) {
	var req createOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Request body is required")
		return
	}
	if req.LegKey == "" {
		respondBadRequest(c, "leg_key is required")
		return
	}
	if req.NewValue == nil {
		respondBadRequest(c, "new_value is required")
		return
	}
	ov, err := r.service.CreateOverride(c.Request.Context(), c.Param("instance_id"), req.LegKey, req.OverrideType, *req.NewValue)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Override created. Will be applied within 5 seconds.", ov)
}

func (r *Router) handleListOverrides(c *gin.Context) {
	overrides, err := r.store.ListOverrides(c.Request.Context(), c.Param("instance_id"), c.Query("leg_key"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "", overrides)
}

func respondOK(c *gin.Context, message string, data any) {
	body := gin.H{"status": "success"}
	if message != "" {
		body["message"] = message
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(http.StatusOK, body)
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": message})
}

// respondError maps domain errors onto HTTP statuses: caller mistakes are
// 4xx, store failures are 5xx and logged with context.
func respondError(c *gin.Context, err error) {
	var ee *exitengine.ExecError
	switch {
	case legs.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, legs.ErrInvalidState), errors.Is(err, store.ErrLegNotOpen):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrLegNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, store.ErrDuplicateLeg):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
	case errors.As(err, &ee):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": fmt.Sprintf("Market exit failed: %s", ee.Reason)})
	default:
		logger.Errorf("strategy-state request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
	}
}
