package logindex

import "regexp"

// redactionPattern pairs a PII/secret shape with the kind-specific token
// that replaces every match of it.
type redactionPattern struct {
	re          *regexp.Regexp
	placeholder string
}

// redactionPatterns are applied, in order, to the message and to every
// string-valued field before an entry reaches any sink. This is the
// mandatory interposing layer from spec.md §4.7 — it runs ahead of the
// console logger, the index write, and the durable mirror alike. Each
// pattern is replaced with its own `[REDACTED_<KIND>]` token rather than a
// single generic placeholder, so downstream consumers can tell what kind
// of value was scrubbed.
var redactionPatterns = []redactionPattern{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(es_live|sk|pk)_[a-zA-Z0-9]{16,}\b`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`\bey[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`\b\+?[0-9][0-9()\-\s]{7,}[0-9]\b`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_NATIONAL_ID]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "[REDACTED_UUID]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED_IP]"},
}

// redactedPlaceholder is used for whole-value, name-based redaction
// (sensitiveFieldNames) where there's no pattern kind to report.
const redactedPlaceholder = "[REDACTED]"

// sensitiveFieldNames are redacted by key regardless of their value's
// shape — secrets that don't match any pattern above (raw passwords,
// opaque tokens) still get caught here.
var sensitiveFieldNames = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"api_key":       true,
	"authorization": true,
	"cookie":        true,
	"ssn":           true,
	"creditcard":    true,
	"credit_card":   true,
}

func redactString(s string) string {
	for _, pattern := range redactionPatterns {
		s = pattern.re.ReplaceAllString(s, pattern.placeholder)
	}
	return s
}

// Sanitize returns a copy of e with PII/secrets redacted from Message and
// Fields. TraceID/UserID/Service/Component are left intact — they're
// indexing keys, not free text, and are expected to be opaque IDs.
func Sanitize(e Entry) Entry {
	clean := e
	clean.Message = redactString(e.Message)

	if len(e.Fields) > 0 {
		clean.Fields = make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			if sensitiveFieldNames[normalizeFieldName(k)] {
				clean.Fields[k] = redactedPlaceholder
				continue
			}
			if s, ok := v.(string); ok {
				clean.Fields[k] = redactString(s)
				continue
			}
			clean.Fields[k] = v
		}
	}
	return clean
}

func normalizeFieldName(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c == '-' || c == ' ' {
			continue
		}
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
