package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters need
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace                bool `default:"false"`
	IgnoreTrailingWhitespace bool `default:"false"`
	NormalizeLineEndings     bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line text (CSV files, CLI output) and reports
// a unified diff on mismatch.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options
func NewTextAsserter(t testing.TB) *TextAsserter {
	return NewTextAsserterFor(t)
}

// NewTextAsserterFor creates a TextAsserter over any TestingT
func NewTextAsserterFor(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Options returns a copy of the current options
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.options
}

// Assert fails the test when actual differs from expected
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// Diff returns an empty string for equal texts, a unified diff otherwise
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if ta.options.EnableColors {
		return colorize(unified)
	}
	return unified
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.NormalizeLineEndings {
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.options.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visibleWhitespace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visibleWhitespace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// visibleWhitespace replaces spaces with middle dots and tabs with arrows
func visibleWhitespace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→").Replace(line)
}

// WithTrimSpace trims leading and trailing whitespace of the whole text
func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

// WithIgnoreTrailingWhitespace trims trailing blanks on every line
func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = ignore }
}

// WithNormalizeLineEndings converts CRLF to LF before comparing
func WithNormalizeLineEndings(normalize bool) TextOption {
	return func(o *TextAssertOptions) { o.NormalizeLineEndings = normalize }
}

// WithEnableColors colors the diff output
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}
