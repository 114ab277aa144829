package crypto

import "regexp"

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b(\+?\d{1,3}[\s-]?)?\d{7,15}\b`)
)

// DetectPII reports the kind of personally-identifying content found in text,
// or "" when none is detected. Facts flagged here are encrypted before they
// reach durable storage.
func DetectPII(text string) string {
	if emailRe.MatchString(text) {
		return "email"
	}
	if phoneRe.MatchString(text) {
		return "phone"
	}
	return ""
}
