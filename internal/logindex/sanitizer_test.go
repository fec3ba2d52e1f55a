package logindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsEmailInMessage(t *testing.T) {
	e := Entry{Message: "login failed for alice@example.com"}
	clean := Sanitize(e)
	assert.NotContains(t, clean.Message, "alice@example.com")
	assert.Contains(t, clean.Message, "[REDACTED_EMAIL]")
}

func TestSanitizeRedactsAPIKeyShapedToken(t *testing.T) {
	e := Entry{Message: "validated key es_live_abcdef0123456789abcdef0123456789"}
	clean := Sanitize(e)
	assert.NotContains(t, clean.Message, "es_live_abcdef0123456789abcdef0123456789")
	assert.Contains(t, clean.Message, "[REDACTED_API_KEY]")
}

func TestSanitizeUsesDistinctTokenPerPatternKind(t *testing.T) {
	assert.Contains(t, Sanitize(Entry{Message: "contact bob@example.com"}).Message, "[REDACTED_EMAIL]")
	assert.Contains(t, Sanitize(Entry{Message: "call +1 415 555 0100"}).Message, "[REDACTED_PHONE]")
	assert.Contains(t, Sanitize(Entry{Message: "ref 9d3e4d9a-1f1a-4c2e-8b3a-7f6e5d4c3b2a"}).Message, "[REDACTED_UUID]")
}

func TestSanitizeRedactsSensitiveFieldByName(t *testing.T) {
	e := Entry{Fields: map[string]interface{}{"password": "hunter2", "count": 3}}
	clean := Sanitize(e)
	assert.Equal(t, redactedPlaceholder, clean.Fields["password"])
	assert.Equal(t, 3, clean.Fields["count"])
}

func TestSanitizeRedactsUUIDInFieldValue(t *testing.T) {
	e := Entry{Fields: map[string]interface{}{"ref": "request id 9d3e4d9a-1f1a-4c2e-8b3a-7f6e5d4c3b2a done"}}
	clean := Sanitize(e)
	assert.NotContains(t, clean.Fields["ref"], "9d3e4d9a-1f1a-4c2e-8b3a-7f6e5d4c3b2a")
}

func TestSanitizeLeavesIndexingKeysIntact(t *testing.T) {
	e := Entry{TraceID: "trace-123", UserID: "user-456", Service: "engine", Component: "queue"}
	clean := Sanitize(e)
	assert.Equal(t, "trace-123", clean.TraceID)
	assert.Equal(t, "user-456", clean.UserID)
}
