// Package testutils holds assertion helpers shared by the package tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any value of a key, as long as the key is present
const Presence = "<<PRESENCE>>"

// TestingT is the part of testing.T the asserters need
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys of actual that expected does not name
	IgnoreExtraKeys bool `default:"true"`
	// IgnoredFields are removed from both sides at any depth
	IgnoredFields []string
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys sets whether keys missing from expected are ignored
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields sets field names that are never compared, such as timestamps
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents structurally and reports a readable diff
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Assert compares actual against expected and fails the test with a diff.
// It returns true when the documents match.
func (ja *JSONAsserter) Assert(actual, expected string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actual, expected); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertLines compares a JSON-lines document line by line
func (ja *JSONAsserter) AssertLines(actual string, expected ...string) bool {
	ja.t.Helper()
	lines := strings.Split(strings.TrimRight(actual, "\n"), "\n")
	if actual == "" {
		lines = nil
	}
	if len(lines) != len(expected) {
		ja.t.Errorf("JSON lines assertion failed: want %d lines, got %d:\n%s", len(expected), len(lines), actual)
		return false
	}
	ok := true
	for i := range lines {
		if diff := ja.Diff(lines[i], expected[i]); diff != "" {
			ja.t.Errorf("JSON lines assertion failed at line %d:\n%s", i+1, diff)
			ok = false
		}
	}
	return ok
}

// Diff returns an empty string when the documents match, otherwise a diff
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v\n%s", err, actual)
	}

	// gojsondiff compares objects only
	exp = map[string]any{"document": exp}
	act = map[string]any{"document": act}

	fillPresence(exp, act)
	for _, f := range ja.options.IgnoredFields {
		dropField(exp, f)
		dropField(act, f)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(act, exp)
	}

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	d, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	var expObj map[string]any
	_ = json.Unmarshal(expBytes, &expObj)
	f := formatter.NewAsciiFormatter(expObj, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(d)
	if err != nil {
		return fmt.Sprintf("JSON differs (format failed: %v)", err)
	}
	return out
}

// fillPresence copies actual values into expected where expected holds Presence.
// A key missing from actual stays a mismatch.
func fillPresence(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, _ := actual.(map[string]any)
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence {
				if av, found := act[k]; found {
					exp[k] = av
				}
				continue
			}
			fillPresence(v, act[k])
		}
	case []any:
		act, _ := actual.([]any)
		for i := range exp {
			if i < len(act) {
				fillPresence(exp[i], act[i])
			}
		}
	}
}

func dropField(v any, field string) {
	switch m := v.(type) {
	case map[string]any:
		delete(m, field)
		for _, child := range m {
			dropField(child, field)
		}
	case []any:
		for _, child := range m {
			dropField(child, field)
		}
	}
}

// pruneExtraKeys removes keys of actual that expected does not have
func pruneExtraKeys(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
