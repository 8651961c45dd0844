// internal/response/notify.go
package response

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/protocol"
)

// notifyTimeout bounds every SMTP delivery. A conversation still running
// after this counts as failure so a hung server never parks a worker.
const notifyTimeout = 30 * time.Second

// sendMailFunc matches smtp.SendMail; swapped out in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers operator alerts over SMTP.
type Mailer struct {
	cfg     config.NotifyConfig
	log     *zap.Logger
	send    sendMailFunc
	timeout time.Duration
}

// NewMailer creates a mailer from configuration.
func NewMailer(cfg config.NotifyConfig, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail, timeout: notifyTimeout}
}

// Alert sends a detailed report for one anomaly record. Returns false on any
// failure; notification failures are isolated, never fatal.
func (m *Mailer) Alert(rec *protocol.AnomalyRecord) bool {
	if !m.cfg.Enabled {
		m.log.Debug("email alerts disabled in configuration")
		return false
	}

	subject := fmt.Sprintf("SECURITY ALERT: %s - %s", rec.Type, rec.Severity)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.Username)
	fmt.Fprintf(&msg, "To: %s\r\n", m.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(rec.DetailedReport())

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)

	// smtp.SendMail carries no deadline of its own, so the delivery runs on
	// the side and the channel fails when the timer wins.
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.send(addr, auth, m.cfg.Username, []string{m.cfg.To}, []byte(msg.String()))
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			m.log.Warn("email alert failed", zap.String("anomaly", rec.ID), zap.Error(err))
			return false
		}
	case <-timer.C:
		m.log.Warn("email alert timed out",
			zap.String("anomaly", rec.ID),
			zap.String("smtp", addr),
			zap.Duration("timeout", m.timeout))
		return false
	}

	m.log.Info("email alert sent", zap.String("anomaly", rec.ID), zap.String("subject", subject))
	return true
}
