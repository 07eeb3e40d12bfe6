package notify

import (
	"context"
	"errors"
	netmail "net/mail"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/callsync/pkg/logging"
)

const defaultFromName = "Voice AI"

// KindCallSummary tags owner notifications for one answered call.
const KindCallSummary = "call-summary"

// EmailSender delivers one rendered message. SendGrid, SES and the stub
// implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered notification.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text
	HTML    string // optional

	// ReplyTo lets the owner answer the caller directly. Invalid addresses
	// are dropped by the senders.
	ReplyTo string
	// Kind becomes a SendGrid category and an SES message tag.
	Kind string
	// Refs are correlation ids (call_id, ...) attached as custom args or tags.
	Refs map[string]string
	// SignedLinks marks bodies carrying tokenized links; senders turn off
	// click tracking so providers do not rewrite or log them.
	SignedLinks bool
}

var (
	errMissingRecipient = errors.New("notify: recipient is required")
	errMissingSubject   = errors.New("notify: subject is required")
)

var validate = validator.New()

func (m EmailMessage) check() error {
	if strings.TrimSpace(m.To) == "" {
		return errMissingRecipient
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errMissingSubject
	}
	return nil
}

// replyTo returns the reply-to address or "" when unset or malformed.
func (m EmailMessage) replyTo() string {
	addr := strings.TrimSpace(m.ReplyTo)
	if addr == "" || validate.Var(addr, "required,email") != nil {
		return ""
	}
	return addr
}

func (m EmailMessage) htmlOrText() string {
	if m.HTML != "" {
		return m.HTML
	}
	return m.Body
}

// refKeys returns Refs keys in a stable order.
func (m EmailMessage) refKeys() []string {
	keys := make([]string, 0, len(m.Refs))
	for k, v := range m.Refs {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// formatAddress renders `"Name" <addr>` with RFC 5322 quoting.
func formatAddress(name, addr string) string {
	if strings.TrimSpace(name) == "" {
		return addr
	}
	return (&netmail.Address{Name: name, Address: addr}).String()
}

// StubEmailSender logs messages instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a sender that only logs.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.check(); err != nil {
		return err
	}
	fields := []any{"to", msg.To, "subject", msg.Subject, "kind", msg.Kind}
	for _, k := range msg.refKeys() {
		fields = append(fields, k, msg.Refs[k])
	}
	s.logger.Info("email delivery disabled, message logged only", fields...)
	return nil
}

var _ EmailSender = (*StubEmailSender)(nil)
