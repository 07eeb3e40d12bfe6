package followup

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/callsync/internal/convai"
)

const (
	purposeNotSpecified = "Not specified"
	noTranscript        = "No transcript available"
	noSummaryExisting   = "No summary available"
	noSummaryNewLead    = "Caller contacted via Voice AI. Follow up needed."
	maxPurposeSentence  = 150
	noteTimeLayout      = "Jan 2, 2006 3:04 PM MST"
)

// CallPurpose picks the best available reason for the call: the analysis
// purpose, then the metadata purpose, then the first sentence of the summary
// when it is short enough. Empty means unknown.
func CallPurpose(detail *convai.ConversationDetail) string {
	if detail == nil {
		return ""
	}
	if p := strings.TrimSpace(detail.Analysis.CallPurpose); p != "" {
		return p
	}
	if p := strings.TrimSpace(detail.Metadata.Purpose); p != "" {
		return p
	}
	summary := detail.SummaryText()
	if summary == "" {
		return ""
	}
	first := strings.SplitN(summary, ".", 2)[0]
	if len(first) > 0 && len(first) < maxPurposeSentence {
		return first + "."
	}
	return ""
}

// CallerName is the name the conversation reports for the caller, if any.
func CallerName(detail *convai.ConversationDetail) string {
	if detail == nil {
		return ""
	}
	if n := strings.TrimSpace(detail.Metadata.CustomerName); n != "" {
		return n
	}
	return strings.TrimSpace(detail.Analysis.CallerName)
}

type noteInput struct {
	At              time.Time
	NewLead         bool
	DurationSeconds int
	Purpose         string
	Summary         string
	Transcript      string
}

func buildNote(in noteInput) string {
	title := "Voice AI Call"
	summary := in.Summary
	if in.NewLead {
		title = "Initial Voice AI Call"
		if summary == "" {
			summary = noSummaryNewLead
		}
	} else if summary == "" {
		summary = noSummaryExisting
	}
	purpose := in.Purpose
	if purpose == "" {
		purpose = purposeNotSpecified
	}
	transcript := in.Transcript
	if strings.TrimSpace(transcript) == "" {
		transcript = noTranscript
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n\n", title, in.At.Format(noteTimeLayout))
	fmt.Fprintf(&b, "Call Duration: %ds\n", in.DurationSeconds)
	fmt.Fprintf(&b, "Call Purpose: %s\n\n", purpose)
	fmt.Fprintf(&b, "Summary: %s\n\n", summary)
	fmt.Fprintf(&b, "---\n%s", transcript)
	return b.String()
}
