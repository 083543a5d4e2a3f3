package bootstrap

import (
	"event-voucher/internal/pkg/config"

	"go.uber.org/fx"
)

var ConfigModule = fx.Module("config",
	fx.Provide(config.LoadConfig),
	ConfigSections,
)

// ConfigSections splits a provided config.Config into the sections that
// individual components depend on.
var ConfigSections = fx.Provide(
	func(cfg config.Config) config.LeaseConfig { return cfg.Lease },
	func(cfg config.Config) config.NotifyConfig { return cfg.Notify },
	func(cfg config.Config) config.RateLimitConfig { return cfg.RateLimit },
	func(cfg config.Config) config.MailConfig { return cfg.Mail },
	func(cfg config.Config) config.CacheConfig { return cfg.Cache },
)
