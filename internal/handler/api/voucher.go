package api

import (
	"net/http"

	reqdto "event-voucher/internal/handler/dto/request"
	resdto "event-voucher/internal/handler/dto/response"
	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"

	"github.com/gin-gonic/gin"
)

type VoucherHandler struct {
	allocator commands.Allocator
	q         queries.VoucherQueries
}

func NewVoucherHandler(allocator commands.Allocator, q queries.VoucherQueries) *VoucherHandler {
	return &VoucherHandler{allocator: allocator, q: q}
}

// @Summary Request voucher
// @Description Issue one voucher for the event and queue its notification mail
// @Tags vouchers
// @Accept json
// @Produce json
// @Param request body reqdto.RequestVoucherRequest true "Voucher request"
// @Success 201 {object} resdto.ClaimResponse
// @Failure 400 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Failure 429 {object} httperr.Response
// @Router /api/vouchers/request [post]
func (h *VoucherHandler) Request(c *gin.Context) {
	var req reqdto.RequestVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	receipt, err := h.allocator.Claim(c.Request.Context(), req.EventID, req.UserEmail)
	if err != nil {
		abortWithUsecaseError(c, err)
		return
	}
	res, err := resdto.FromClaimReceipt(receipt)
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.Header("Location", "/api/vouchers/"+receipt.Code)
	c.JSON(http.StatusCreated, res)
}

// @Summary Get voucher
// @Tags vouchers
// @Produce json
// @Param code path string true "Voucher code"
// @Success 200 {object} resdto.VoucherResponse
// @Failure 400 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Router /api/vouchers/{code} [get]
func (h *VoucherHandler) Get(c *gin.Context) {
	view, err := h.q.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		abortWithUsecaseError(c, err)
		return
	}
	res, err := resdto.FromVoucherView(view)
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
