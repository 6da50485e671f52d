package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the union of every response shape the endpoint is known to return.
type envelope struct {
	Status         *string          `json:"status"`
	PredictedClass *int             `json:"predicted_class"`
	Confidence     *float64         `json:"confidence"`
	Error          *string          `json:"error"`
	Detail         *json.RawMessage `json:"detail"`
}

type responseKind int

const (
	kindInvalid responseKind = iota
	kindSuccess
	kindError
	// kindLegacy is a prediction without a status field.
	kindLegacy
)

func (e *envelope) kind() responseKind {
	hasPrediction := e.PredictedClass != nil && e.Confidence != nil
	switch {
	case e.Status != nil && *e.Status == statusSuccess && hasPrediction:
		return kindSuccess
	case e.Status != nil && *e.Status == statusError:
		return kindError
	case e.Status == nil && hasPrediction:
		return kindLegacy
	case e.Status == nil && (e.Error != nil || e.Detail != nil):
		return kindError
	default:
		return kindInvalid
	}
}

func (e *envelope) reason() string {
	if e.Error != nil && *e.Error != "" {
		return *e.Error
	}
	if e.Detail != nil {
		var text string
		if err := json.Unmarshal(*e.Detail, &text); err == nil {
			return text
		}
		return string(*e.Detail)
	}
	return "prediction failed"
}

// decodeResponse parses a 2xx body into a normalized result.
func decodeResponse(body []byte) (*Result, error) {
	var env envelope
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&env); err != nil {
		return nil, &PredictionError{Reason: "malformed response body", Err: err}
	}

	switch env.kind() {
	case kindSuccess, kindLegacy:
		return Normalize(*env.PredictedClass, *env.Confidence)
	case kindError:
		return nil, &PredictionError{Reason: env.reason()}
	default:
		return nil, &PredictionError{Reason: fmt.Sprintf("unexpected response shape: %s", truncate(body))}
	}
}

// errorReason extracts a human readable reason from a non-2xx body, JSON or text.
func errorReason(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Error != nil || env.Detail != nil) {
		return env.reason()
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate([]byte(text))
	}
	return "empty response"
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
