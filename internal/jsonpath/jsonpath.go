// Package jsonpath extracts scalar values from JSON documents using dotted
// paths such as "clientToken" or "execution.jobId".
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

var (
	// ErrMalformed is returned when the document is not valid JSON.
	ErrMalformed = errors.New("jsonpath: malformed document")
	// ErrNotFound is returned when the path does not resolve to a value.
	ErrNotFound = errors.New("jsonpath: path not found")
	// ErrNotScalar is returned when the path resolves to an object or array.
	ErrNotScalar = errors.New("jsonpath: value is not a scalar")
)

// Split turns a dotted path into the key list understood by jsonparser.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// ExtractString returns the value at path rendered as a string. Strings are
// unescaped; numbers and booleans are returned as their JSON text.
func ExtractString(doc []byte, path string) (string, error) {
	if !json.Valid(doc) {
		return "", ErrMalformed
	}
	keys := Split(path)
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}

	value, typ, _, err := jsonparser.Get(doc, keys...)
	if err != nil {
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return s, nil
	case jsonparser.Number, jsonparser.Boolean:
		return string(value), nil
	case jsonparser.Null, jsonparser.NotExist:
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return "", fmt.Errorf("%w: %s", ErrNotScalar, path)
	}
}
