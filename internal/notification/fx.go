package notification

import (
	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New picks the SMTP notifier when a host is configured, otherwise a noop.
func New(cfg config.Config, log *zap.Logger) Notifier {
	if cfg.SMTPHost == "" {
		return noopNotifier{}
	}
	return newSMTPNotifier(cfg, log)
}

var Module = fx.Module("notification",
	fx.Provide(New),
)
