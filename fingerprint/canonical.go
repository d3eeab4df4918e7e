package fingerprint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
)

// ErrMalformedBody is returned when a body declared as JSON or form data cannot be parsed
var ErrMalformedBody = errors.New("malformed request body")

// Canonicalize returns a stable representation of a request body. JSON bodies
// are decoded with numbers preserved and re-encoded with object keys sorted at
// every depth; form bodies are re-encoded in key order. Any other content is
// returned unchanged.
func Canonicalize(body []byte, contentType string) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}

	mediaType := contentType
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return CanonicalJSON(body)
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		// url.Values.Encode sorts by key
		return []byte(values.Encode()), nil
	default:
		return body, nil
	}
}

// CanonicalJSON re-encodes a JSON document with recursively sorted object keys.
func CanonicalJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedBody)
	}

	// encoding/json writes map[string]interface{} keys in sorted order at every level
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode canonical JSON: %w", err)
	}
	return out, nil
}

// CanonicalQuery re-encodes a raw query string in key order. Repeated values
// keep their relative order.
func CanonicalQuery(rawQuery string) (string, error) {
	if rawQuery == "" {
		return "", nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("malformed query string: %w", err)
	}
	return values.Encode(), nil
}
