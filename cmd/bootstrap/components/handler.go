package components

import (
	"event-voucher/internal/handler"
	"event-voucher/internal/handler/api"
	"event-voucher/internal/handler/middleware"

	"go.uber.org/fx"
)

var HandlerModule = fx.Module("handler",
	fx.Provide(
		api.NewEventHandler,
		api.NewVoucherHandler,
		middleware.NewAuthMiddleware,
		middleware.NewRateLimiter,
	),
	fx.Invoke(handler.NewRouter),
)
