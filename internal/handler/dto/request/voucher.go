package request

type RequestVoucherRequest struct {
	EventID   string `json:"eventId" binding:"required"`
	UserEmail string `json:"userEmail" binding:"required"`
}
