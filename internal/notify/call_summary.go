package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/callsync/pkg/logging"
)

// CallSummary is the content of an owner notification for one answered call.
type CallSummary struct {
	CallID          string
	CallerName      string
	CallerPhone     string
	CallerEmail     string
	CallReason      string
	AgentName       string
	DurationSeconds int
	CallDate        time.Time
	Transcript      string
	Summary         string
	RecordingURL    string
}

// Destination is where a call summary is delivered.
type Destination struct {
	Email string
	Name  string
}

// CallNotifier emails call summaries to voice line owners.
type CallNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewCallNotifier creates a notifier. A nil sender disables delivery.
func NewCallNotifier(email EmailSender, logger *logging.Logger) *CallNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallNotifier{email: email, logger: logger}
}

// NotifyCallSummary reports whether the summary was delivered. Failures are
// logged here so callers only need the outcome.
func (n *CallNotifier) NotifyCallSummary(ctx context.Context, dest Destination, summary CallSummary) bool {
	if n == nil || n.email == nil {
		return false
	}
	if strings.TrimSpace(dest.Email) == "" {
		n.logger.Warn("notify: call summary skipped, no destination", "call_id", summary.CallID)
		return false
	}
	msg := BuildCallSummaryEmail(dest, summary)
	if err := n.email.Send(ctx, msg); err != nil {
		n.logger.Error("notify: failed to send call summary", "error", err, "to", dest.Email, "call_id", summary.CallID)
		return false
	}
	n.logger.Info("notify: call summary sent", "to", dest.Email, "call_id", summary.CallID)
	return true
}

// FormatDuration renders seconds as "Xm Ys".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// BuildCallSummaryEmail renders the plain-text and HTML bodies.
func BuildCallSummaryEmail(dest Destination, s CallSummary) EmailMessage {
	callerName := orDefault(s.CallerName, orDefault(s.CallerPhone, "Unknown"))
	callerPhone := orDefault(s.CallerPhone, "Unknown")
	agentName := orDefault(s.AgentName, "AI Agent")
	duration := FormatDuration(s.DurationSeconds)
	callDate := s.CallDate
	if callDate.IsZero() {
		callDate = time.Now().UTC()
	}
	when := callDate.Format("January 2, 2006 at 3:04 PM MST")

	subject := fmt.Sprintf("New call from %s (%s)", callerName, agentName)

	var body strings.Builder
	fmt.Fprintf(&body, "%s answered a call from %s.\n\n", agentName, callerName)
	fmt.Fprintf(&body, "Caller: %s\n", callerName)
	fmt.Fprintf(&body, "Phone: %s\n", callerPhone)
	if s.CallerEmail != "" {
		fmt.Fprintf(&body, "Email: %s\n", s.CallerEmail)
	}
	if s.CallReason != "" {
		fmt.Fprintf(&body, "Reason: %s\n", s.CallReason)
	}
	fmt.Fprintf(&body, "Duration: %s\n", duration)
	fmt.Fprintf(&body, "Date: %s\n", when)
	if s.RecordingURL != "" {
		fmt.Fprintf(&body, "Recording: %s\n", s.RecordingURL)
	}
	if s.Summary != "" {
		fmt.Fprintf(&body, "\nSummary:\n%s\n", s.Summary)
	}
	if s.Transcript != "" {
		fmt.Fprintf(&body, "\nTranscript:\n%s\n", s.Transcript)
	}

	row := func(label, value string) string {
		return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			label, html.EscapeString(value))
	}
	var rows strings.Builder
	rows.WriteString(row("Caller", callerName))
	rows.WriteString(row("Phone", callerPhone))
	if s.CallerEmail != "" {
		rows.WriteString(row("Email", s.CallerEmail))
	}
	if s.CallReason != "" {
		rows.WriteString(row("Reason", s.CallReason))
	}
	rows.WriteString(row("Duration", duration))
	rows.WriteString(row("Date", when))

	var extra strings.Builder
	if s.RecordingURL != "" {
		fmt.Fprintf(&extra, `<p><a href="%s">Listen to the recording</a></p>`, html.EscapeString(s.RecordingURL))
	}
	if s.Summary != "" {
		fmt.Fprintf(&extra, `<h3>Summary</h3><p>%s</p>`, html.EscapeString(s.Summary))
	}
	if s.Transcript != "" {
		fmt.Fprintf(&extra, `<h3>Transcript</h3><pre style="white-space: pre-wrap; font-family: inherit;">%s</pre>`, html.EscapeString(s.Transcript))
	}

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>New call for %s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  %s
</table>
%s
</div>`, html.EscapeString(agentName), rows.String(), extra.String())

	msg := EmailMessage{
		To:          dest.Email,
		ToName:      dest.Name,
		Subject:     subject,
		Body:        body.String(),
		HTML:        htmlBody,
		ReplyTo:     s.CallerEmail,
		Kind:        KindCallSummary,
		SignedLinks: s.RecordingURL != "",
	}
	if s.CallID != "" {
		msg.Refs = map[string]string{"call_id": s.CallID}
	}
	return msg
}
