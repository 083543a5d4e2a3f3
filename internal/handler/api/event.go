package api

import (
	"context"
	"net/http"

	reqdto "event-voucher/internal/handler/dto/request"
	resdto "event-voucher/internal/handler/dto/response"
	"event-voucher/internal/handler/httperr"
	"event-voucher/internal/handler/middleware"
	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type EventHandler struct {
	cmds   commands.EventCommands
	leases commands.LeaseManager
	q      queries.EventQueries
}

func NewEventHandler(cmds commands.EventCommands, leases commands.LeaseManager, q queries.EventQueries) *EventHandler {
	return &EventHandler{cmds: cmds, leases: leases, q: q}
}

// @Summary Create event
// @Description Create an event with a fixed voucher inventory (admin only)
// @Tags events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body reqdto.CreateEventRequest true "Create event request"
// @Success 201 {object} resdto.CreateEventResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 403 {object} httperr.Response
// @Router /api/events [post]
func (h *EventHandler) Create(c *gin.Context) {
	var req reqdto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	result, err := h.cmds.Create(c.Request.Context(), req.ToInput())
	if err != nil {
		abortWithUsecaseError(c, err)
		return
	}
	c.Header("Location", "/api/events/"+result.EventID.String())
	c.JSON(http.StatusCreated, resdto.CreateEventResponse{EventID: result.EventID})
}

// @Summary Get event
// @Description Get an event with its lease state and voucher counters
// @Tags events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} resdto.EventResponse
// @Failure 400 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Router /api/events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid id", nil)
		return
	}
	view, err := h.q.GetByID(c.Request.Context(), id)
	if err != nil {
		abortWithUsecaseError(c, err)
		return
	}
	res, err := resdto.FromEventView(view)
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Acquire edit lease
// @Description Take the event's edit lease for the caller, or refresh it if the caller already holds it
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} resdto.LeaseResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Router /api/events/{id}/editable/me [post]
func (h *EventHandler) Acquire(c *gin.Context) {
	h.lease(c, h.leases.Acquire)
}

// @Summary Maintain edit lease
// @Description Refresh the caller's lease; a stale foreign lease is cleared but not granted
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} resdto.LeaseResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Router /api/events/{id}/editable/maintain [post]
func (h *EventHandler) Maintain(c *gin.Context) {
	h.lease(c, h.leases.Renew)
}

// @Summary Release edit lease
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} resdto.LeaseResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Router /api/events/{id}/editable/release [post]
func (h *EventHandler) Release(c *gin.Context) {
	h.lease(c, h.leases.Release)
}

type leaseOp func(ctx context.Context, eventID, holderID string) (*commands.LeaseResult, error)

func (h *EventHandler) lease(c *gin.Context, op leaseOp) {
	holder, ok := middleware.GetUserID(c)
	if !ok {
		abortInternal(c, errNoPrincipal)
		return
	}
	result, err := op(c.Request.Context(), c.Param("id"), holder.String())
	if err != nil {
		abortWithUsecaseError(c, err)
		return
	}
	res, err := resdto.FromLeaseResult(result)
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
