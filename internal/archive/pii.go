package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"

	"github.com/wolfman30/callsync/internal/phone"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number's last 10 digits,
// so differently formatted copies of one number hash alike.
func HashPhone(number string) string {
	suffix := phone.Suffix(number, 10)
	if suffix == "" {
		return ""
	}
	h := sha256.Sum256([]byte(suffix))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
