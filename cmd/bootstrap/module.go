package bootstrap

import (
	"event-voucher/cmd/bootstrap/components"

	"go.uber.org/fx"
)

var Module = fx.Options(
	ConfigModule,
	LoggerModule,
	ObservabilityModule,
	JWTModule,
	StoreModule,
	components.UseCaseModule,
	components.WorkerModule,
	components.HandlerModule,
)
