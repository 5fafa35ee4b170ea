package sheets

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/redact"
)

// apiErrorEnvelope is the error body shape returned by the spreadsheet API.
type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx spreadsheet API response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	// APIStatus is the canonical status name from the error envelope, e.g. NOT_FOUND.
	APIStatus string
	Message   string

	// Snippet is a redacted, truncated hint for responses without an envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "sheets http error"
	}
	parts := []string{
		fmt.Sprintf("sheets api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.APIStatus) != "" {
		parts = append(parts, "apiStatus="+strings.TrimSpace(e.APIStatus))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, fmt.Sprintf("message=%q", strings.TrimSpace(e.Message)))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, statusCode int, status string, body []byte) error {
	h := &HTTPError{
		Op:         op,
		StatusCode: statusCode,
		Status:     status,
	}

	var env apiErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.APIStatus = strings.TrimSpace(env.Error.Status)
		h.Message = redactAndTruncate([]byte(env.Error.Message))
		if h.APIStatus != "" || h.Message != "" {
			return h
		}
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
