package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/openfroyo/playbook-resource/pkg/config"
)

// ReadRequest decodes one request from r.
func ReadRequest(r io.Reader, req any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(req); err != nil {
		return fmt.Errorf("cannot read request: %w", err)
	}
	return nil
}

// WriteResponse encodes resp to w as a single JSON document.
func WriteResponse(w io.Writer, resp any) error {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("cannot write response: %w", err)
	}
	return nil
}

// Values decodes a source or params object into configuration values.
// Numbers are kept as json.Number. A missing or null object is empty.
func Values(raw json.RawMessage) (config.Values, error) {
	values := config.Values{}
	if isEmpty(raw) {
		return values, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("cannot decode object: %w", err)
	}
	return values, nil
}

// Section returns the fields of the object stored under key, undecoded.
// A missing or null section is empty.
func Section(raw json.RawMessage, key string) (map[string]json.RawMessage, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("cannot decode object: %w", err)
	}
	inner, ok := outer[key]
	if !ok || isEmpty(inner) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, fmt.Errorf("%s must be an object: %w", key, err)
	}
	return fields, nil
}

// NewVersion stamps a put with the time in unix seconds.
func NewVersion(now time.Time) Version {
	secs := float64(now.Unix()) + float64(now.Nanosecond())/float64(time.Second)
	return Version{Timestamp: strconv.FormatFloat(secs, 'f', 6, 64)}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
