// Package errors derives low-cardinality error class tags for metrics.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify reduces an error to a stable tag value: the innermost wrapped
// error's concrete type, lowercased with package separators flattened. Using
// the innermost error keeps fmt.Errorf wrapping from collapsing everything
// into one class.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	for inner := goerrors.Unwrap(err); inner != nil; inner = goerrors.Unwrap(err) {
		err = inner
	}

	return typeTag(reflect.TypeOf(err))
}

func typeTag(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ReplaceAll(strings.ToLower(t.String()), "*", "")
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
