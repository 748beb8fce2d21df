package inference

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

const maxSnippetBytes = 256

// parseEnvelope extracts the inference result and the server reported
// processing time from a [result, {"secs": S, "nanos": N}] body.
func parseEnvelope(body []byte) (json.RawMessage, time.Duration, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, malformed("body is not valid JSON", body)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, 0, malformed("expected a two element array", body)
	}
	elems := root.Array()
	if len(elems) != 2 {
		return nil, 0, malformed(fmt.Sprintf("expected 2 elements, got %d", len(elems)), body)
	}

	timing := elems[1]
	if !timing.IsObject() {
		return nil, 0, malformed("timing element is not an object", body)
	}
	secs, err := wholeNumber(timing, "secs")
	if err != nil {
		return nil, 0, malformed(err.Error(), body)
	}
	nanos, err := wholeNumber(timing, "nanos")
	if err != nil {
		return nil, 0, malformed(err.Error(), body)
	}

	result := json.RawMessage(append([]byte(nil), elems[0].Raw...))
	return result, time.Duration(secs)*time.Second + time.Duration(nanos), nil
}

func wholeNumber(obj gjson.Result, field string) (int64, error) {
	v := obj.Get(field)
	if !v.Exists() {
		return 0, fmt.Errorf("timing.%s is missing", field)
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("timing.%s is not a number", field)
	}
	n := v.Int()
	if float64(n) != v.Float() || n < 0 {
		return 0, fmt.Errorf("timing.%s must be a non-negative integer, got %s", field, v.Raw)
	}
	return n, nil
}

func malformed(reason string, body []byte) *MalformedResponseError {
	return &MalformedResponseError{Reason: reason, Body: snippet(body)}
}

func snippet(body []byte) string {
	if len(body) > maxSnippetBytes {
		body = body[:maxSnippetBytes]
	}
	return string(body)
}
