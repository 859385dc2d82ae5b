package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/zap"
)

type smtpNotifier struct {
	addr string
	auth smtp.Auth
	from string
	log  *zap.Logger
}

func newSMTPNotifier(cfg config.Config, log *zap.Logger) Notifier {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &smtpNotifier{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth: auth,
		from: cfg.SMTPFrom,
		log:  log.Named("notification.smtp"),
	}
}

func (n *smtpNotifier) NotifyExpiryWarning(ctx context.Context, w ExpiryWarning) error {
	if w.Recipient == "" {
		n.log.Debug("expiry warning has no recipient, skipping",
			zap.Int64("org_id", int64(w.OrgID)),
		)
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", n.from)
	fmt.Fprintf(&body, "To: %s\r\n", w.Recipient)
	fmt.Fprintf(&body, "Subject: Credits expiring on %s\r\n", w.ExpiresAt.Format("2006-01-02"))
	body.WriteString("\r\n")
	fmt.Fprintf(&body, "%s credits for %s %d expire on %s. Unused credits are removed at expiry.\r\n",
		w.Amount.String(), w.EntityType, w.EntityID, w.ExpiresAt.Format("2006-01-02 15:04 MST"))

	if err := smtp.SendMail(n.addr, n.auth, n.from, []string{w.Recipient}, []byte(body.String())); err != nil {
		return fmt.Errorf("send expiry warning: %w", err)
	}
	return nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyExpiryWarning(context.Context, ExpiryWarning) error { return nil }
