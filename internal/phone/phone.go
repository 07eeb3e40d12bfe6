// Package phone normalizes caller and destination numbers.
package phone

import (
	"regexp"
	"strings"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Digits strips everything but digits.
func Digits(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(digitsRe.FindAllString(value, -1), "")
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := Digits(strings.TrimSpace(value))
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Suffix returns the last n digits of value, or all of them when shorter.
func Suffix(value string, n int) string {
	digits := Digits(value)
	if n <= 0 || len(digits) <= n {
		return digits
	}
	return digits[len(digits)-n:]
}

// SameSubscriber reports whether both numbers share the same last 10 digits.
// Empty numbers never match.
func SameSubscriber(a, b string) bool {
	sa, sb := Suffix(a, 10), Suffix(b, 10)
	return sa != "" && sa == sb
}
