package enrichment

import (
	"fmt"
	"math"
	"strings"

	"github.com/wolfman30/callsync/internal/convai"
)

// RenderTranscript flattens conversation turns into one line per turn:
//
//	[1:05] Agent: How can I help?
//
// Turns without a positive time offset are rendered without the bracket.
func RenderTranscript(turns []convai.TranscriptTurn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := "User"
		if turn.Role == "agent" {
			role = "Agent"
		}
		line := fmt.Sprintf("%s: %s", role, turn.Message)
		if stamp := timestamp(turn.TimeInCallSecs); stamp != "" {
			line = stamp + " " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func timestamp(offset *float64) string {
	if offset == nil || *offset <= 0 || math.IsNaN(*offset) {
		return ""
	}
	secs := int(math.Floor(*offset))
	return fmt.Sprintf("[%d:%02d]", secs/60, secs%60)
}
