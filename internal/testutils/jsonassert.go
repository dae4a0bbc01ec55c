package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

// MustJSON marshals v or panics
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"false"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally (key order does not
// matter) and reports a gojsondiff rendering on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t testing.TB) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Options returns a copy of the current options
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertValue marshals v (e.g. a decoded sample) and compares it
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) bool {
	ja.t.Helper()
	return ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns "" when the documents match under the configured options
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	walkPairs(expected, actual, func(exp, act map[string]any) {
		for _, f := range ja.options.IgnoredFields {
			delete(exp, f)
			delete(act, f)
		}
		if ja.options.AllowPresencePlaceholder {
			for k, v := range exp {
				if s, ok := v.(string); ok && s == PresencePlaceholder {
					if av, present := act[k]; present {
						exp[k] = av
					}
				}
			}
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
	})

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walkPairs visits every object present at the same path in both documents.
func walkPairs(expected, actual any, fn func(exp, act map[string]any)) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		fn(exp, act)
		for k := range exp {
			walkPairs(exp[k], act[k], fn)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walkPairs(exp[i], act[i], fn)
			}
		}
	}
}

// WithIgnoreExtraKeys drops keys of actual objects that expected does not name
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithAllowPresencePlaceholder enables the "<<PRESENCE>>" wildcard
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields removes the named fields from both sides at every level
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
