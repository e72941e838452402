package respond

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]+`)
	// credentials embedded in a DSN or SMTP URL
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
	// key=value pairs whose key names a secret, as in query strings or config dumps
	secretParamPattern = regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api_key|apikey|private_key)=([^&\s]+)`)
	privateKeyPattern  = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)
)

// SanitizeError returns err's message with credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = privateKeyPattern.ReplaceAllString(msg, "[private key]")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	msg = secretParamPattern.ReplaceAllString(msg, "$1=****")
	return msg
}
