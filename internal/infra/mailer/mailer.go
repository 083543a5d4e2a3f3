package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strings"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"
)

var ErrInvalidRecipient = errs.New("invalid notification recipient")

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SMTPDeliverer sends voucher mails through a plain SMTP relay. The whole
// exchange runs on the caller's goroutine, bounded by the ctx deadline.
type SMTPDeliverer struct {
	addr  string
	host  string
	auth  smtp.Auth
	from  mail.Address
	clock clock.Clock
	dial  dialFunc
}

var _ shared.Deliverer = (*SMTPDeliverer)(nil)

func NewSMTPDeliverer(cfg config.MailConfig, clk clock.Clock) (*SMTPDeliverer, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, errs.Wrapf(err, "invalid MAIL_FROM %q", cfg.From)
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	dialer := &net.Dialer{}
	return &SMTPDeliverer{
		addr:  net.JoinHostPort(cfg.Host, cfg.Port),
		host:  cfg.Host,
		auth:  auth,
		from:  *from,
		clock: clk,
		dial:  dialer.DialContext,
	}, nil
}

func (d *SMTPDeliverer) Deliver(ctx context.Context, recipient string, payload notification.Payload) error {
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return errs.Mark(errs.Wrap(err, recipient), ErrInvalidRecipient)
	}
	msg := compose(d.from, *to, payload, d.clock.Now())

	conn, err := d.dial(ctx, "tcp", d.addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Wrapf(err, "smtp dial %s", d.addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return errs.Wrap(err, "smtp set deadline")
		}
	}
	// a deadline in the past unblocks any pending read or write
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := d.exchange(conn, to.Address, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return errs.Wrap(err, "smtp send")
	}
	return nil
}

// exchange follows smtp.SendMail over an already dialed conn.
func (d *SMTPDeliverer) exchange(conn net.Conn, to string, msg []byte) error {
	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: d.host}); err != nil {
			return err
		}
	}
	if d.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errs.New("smtp relay does not support AUTH")
		}
		if err := c.Auth(d.auth); err != nil {
			return err
		}
	}
	if err := c.Mail(d.from.Address); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// LogDeliverer only logs the mail. Used when no SMTP relay is configured.
type LogDeliverer struct {
	logger *slog.Logger
}

var _ shared.Deliverer = (*LogDeliverer)(nil)

func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger.With("component", "mailer")}
}

func (d *LogDeliverer) Deliver(ctx context.Context, recipient string, payload notification.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return errs.Mark(errs.Wrap(err, recipient), ErrInvalidRecipient)
	}
	d.logger.Info("voucher mail",
		"recipient", recipient,
		"voucher_code", payload.VoucherCode,
		"event_id", payload.EventID,
		"event_name", payload.EventName)
	return nil
}

// New builds the deliverer for NOTIFY_TRANSPORT. The smtp transport falls
// back to logging when SMTP_HOST is empty. timeout bounds each broker request.
func New(cfg config.MailConfig, timeout time.Duration, clk clock.Clock, logger *slog.Logger) (shared.Deliverer, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return DialNATS(cfg.NATSURL, cfg.NATSSubject)
	case config.TransportKafka:
		return DialKafka(cfg.KafkaBrokers, cfg.KafkaTopic, timeout)
	case config.TransportSMTP, "":
		if cfg.Host == "" {
			return NewLogDeliverer(logger), nil
		}
		return NewSMTPDeliverer(cfg, clk)
	default:
		return nil, errs.Newf("unknown notify transport %q", cfg.Transport)
	}
}

func compose(from, to mail.Address, p notification.Payload, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: Your voucher for %s\r\n", p.EventName)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Your voucher code for %s is:\r\n\r\n", p.EventName)
	fmt.Fprintf(&b, "    %s\r\n\r\n", p.VoucherCode)
	fmt.Fprintf(&b, "Event ID: %s\r\n", p.EventID)
	return []byte(b.String())
}
