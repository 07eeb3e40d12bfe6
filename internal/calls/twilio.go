package calls

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/wolfman30/callsync/internal/phone"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// request's form parameters and the public webhook URL.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	expected := computeSignature(buildSignaturePayload(webhookURL, r.PostForm), authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// buildSignaturePayload is the URL followed by each sorted key and its values.
func buildSignaturePayload(webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ParseStatusEvent reads a Twilio call-status form post.
func ParseStatusEvent(r *http.Request) (StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, fmt.Errorf("calls: parse status form: %w", err)
	}
	return StatusEvent{
		CallID:          strings.TrimSpace(r.FormValue("CallSid")),
		RawStatus:       strings.TrimSpace(r.FormValue("CallStatus")),
		DurationSeconds: ParseDuration(r.FormValue("CallDuration")),
		From:            normalizeNumber(r.FormValue("From")),
		To:              normalizeNumber(r.FormValue("To")),
		Direction:       strings.TrimSpace(r.FormValue("Direction")),
	}, nil
}

// normalizeNumber rewrites dialable numbers to E.164. SIP and client
// identities ("client:alice", "Anonymous") are kept as sent.
func normalizeNumber(value string) string {
	value = strings.TrimSpace(value)
	if strings.IndexFunc(value, unicode.IsLetter) >= 0 {
		return value
	}
	return phone.NormalizeE164(value)
}
