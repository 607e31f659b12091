package notify

import (
	"context"
	"errors"
)

var ErrNoSender = errors.New("notify: sender is required")

type Message struct {
	To      string
	Subject string
	Body    string
	Headers map[string]string
}

// Sender delivers a message and reports whether delivery succeeded.
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

type SenderFunc func(ctx context.Context, msg Message) bool

func (f SenderFunc) Send(ctx context.Context, msg Message) bool {
	return f(ctx, msg)
}

// Mailer fills in default headers and hands messages to a Sender.
type Mailer struct {
	sender  Sender
	headers map[string]string
}

func NewMailer(sender Sender, defaultHeaders map[string]string) (*Mailer, error) {
	if sender == nil {
		return nil, ErrNoSender
	}

	headers := make(map[string]string, len(defaultHeaders))
	for key, value := range defaultHeaders {
		headers[key] = value
	}

	return &Mailer{sender: sender, headers: headers}, nil
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string, headers map[string]string) bool {
	if m == nil || m.sender == nil {
		return false
	}

	merged := make(map[string]string, len(m.headers)+len(headers))
	for key, value := range m.headers {
		merged[key] = value
	}
	for key, value := range headers {
		merged[key] = value
	}

	return m.sender.Send(ctx, Message{
		To:      to,
		Subject: subject,
		Body:    body,
		Headers: merged,
	})
}
