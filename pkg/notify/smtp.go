package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

type SMTPConfig struct {
	Address  string
	From     string
	Username string
	Password string
}

// SMTPSender delivers through a plain SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	config   SMTPConfig
	logger   logr.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(config SMTPConfig, logger logr.Logger) *SMTPSender {
	return &SMTPSender{
		config:   config,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		s.logger.Error(err, "invalid recipient address", "to", msg.To)
		return false
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		host := s.config.Address
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, host)
	}

	if err := s.sendMail(s.config.Address, auth, s.config.From, []string{to.Address}, renderMessage(s.config.From, to.Address, msg)); err != nil {
		s.logger.Error(err, "smtp delivery failed", "to", to.Address, "relay", s.config.Address)
		return false
	}
	return true
}

func renderMessage(from, to string, msg Message) []byte {
	var buf bytes.Buffer

	headers := map[string]string{
		"From":    from,
		"To":      to,
		"Subject": msg.Subject,
	}
	for key, value := range msg.Headers {
		headers[key] = value
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, sanitizeHeader(headers[key]))
	}
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(value)
}
