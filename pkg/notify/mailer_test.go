package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func TestMailerMergesHeaders(t *testing.T) {
	var got Message
	mailer, err := NewMailer(SenderFunc(func(ctx context.Context, msg Message) bool {
		got = msg
		return true
	}), map[string]string{"From": "admin@example.com", "X-App": "authlite"})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}

	ok := mailer.Send(context.Background(), "alice@example.com", "Hi", "Body", map[string]string{"X-App": "override"})
	if !ok {
		t.Fatal("expected send to succeed")
	}
	if got.To != "alice@example.com" || got.Subject != "Hi" || got.Body != "Body" {
		t.Fatalf("unexpected message %+v", got)
	}
	if got.Headers["From"] != "admin@example.com" || got.Headers["X-App"] != "override" {
		t.Fatalf("unexpected headers %v", got.Headers)
	}
}

func TestMailerReportsSenderFailure(t *testing.T) {
	mailer, err := NewMailer(SenderFunc(func(context.Context, Message) bool { return false }), nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	if mailer.Send(context.Background(), "a@example.com", "s", "b", nil) {
		t.Fatal("expected failure to be reported")
	}

	if _, err := NewMailer(nil, nil); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}

	var nilMailer *Mailer
	if nilMailer.Send(context.Background(), "a@example.com", "s", "b", nil) {
		t.Fatal("expected nil mailer to report failure")
	}
}

func TestSMTPSenderRendersMessage(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Address: "mail.example.com:25", From: "admin@example.com", Username: "u", Password: "p"}, logr.Discard())

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  string
	)
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	ok := sender.Send(context.Background(), Message{
		To:      "Alice <alice@example.com>",
		Subject: "Welcome\r\nBcc: evil@example.com",
		Body:    "hello",
	})
	if !ok {
		t.Fatal("expected send to succeed")
	}
	if gotAddr != "mail.example.com:25" || gotAuth == nil {
		t.Fatalf("unexpected relay %q auth %v", gotAddr, gotAuth)
	}
	if len(gotTo) != 1 || gotTo[0] != "alice@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: WelcomeBcc: evil@example.com\r\n") {
		t.Fatalf("expected header injection to be neutralized, got %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "\r\n\r\nhello") {
		t.Fatalf("expected body after blank line, got %q", gotMsg)
	}
}

func TestSMTPSenderFailures(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Address: "mail.example.com:25"}, logr.Discard())
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("relay down")
	}

	if sender.Send(context.Background(), Message{To: "alice@example.com"}) {
		t.Fatal("expected relay failure to be reported")
	}
	if sender.Send(context.Background(), Message{To: "not an address"}) {
		t.Fatal("expected invalid address to be reported")
	}
}
