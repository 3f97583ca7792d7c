// Package extract pulls variables out of execution results with ordered
// regular expressions.
//
// In cascade mode (the default) each pattern runs against the text extracted
// by the previous one, narrowing the match step by step. In fallback mode
// every pattern runs against the original source and the first match wins.
// Either way a pattern's extracted text is its first capture group, or the
// whole match when the pattern has no groups.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"netshell/internal/pipeline/types"
	"netshell/internal/vars"
)

// Error reports why a rule produced no value.
type Error struct {
	Rule    string
	Pattern string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("extract %q: pattern %q: %s", e.Rule, e.Pattern, e.Msg)
	}
	return fmt.Sprintf("extract %q: %s", e.Rule, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome is the result of applying one rule.
type Outcome struct {
	Rule     string
	Value    string
	Warnings []string
	Err      error
}

func (o Outcome) OK() bool { return o.Err == nil }

var cache sync.Map // pattern -> *regexp.Regexp

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := cache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	cache.Store(pattern, re)
	return re, nil
}

// Source returns the text a rule reads from result.
func Source(src types.ExtractSource, result types.ExecutionResult) (string, error) {
	switch src {
	case types.SourceStdout:
		return result.Stdout, nil
	case types.SourceStderr:
		return result.Stderr, nil
	case types.SourceExitCode:
		return strconv.Itoa(result.ExitCode), nil
	}
	return "", fmt.Errorf("unknown source %q", src)
}

// Extract applies rule to result. It never touches a store.
func Extract(rule types.ExtractRule, result types.ExecutionResult) Outcome {
	out := Outcome{Rule: rule.Name}
	if len(rule.Patterns) == 0 {
		out.Err = &Error{Rule: rule.Name, Msg: "no patterns"}
		return out
	}
	text, err := Source(rule.Source, result)
	if err != nil {
		out.Err = &Error{Rule: rule.Name, Msg: err.Error(), Err: err}
		return out
	}
	if rule.IsCascade() {
		return cascade(rule, text, out)
	}
	return fallback(rule, text, out)
}

func cascade(rule types.ExtractRule, text string, out Outcome) Outcome {
	cur := text
	for _, p := range rule.Patterns {
		re, err := compile(p)
		if err != nil {
			out.Err = &Error{Rule: rule.Name, Pattern: p, Msg: "invalid pattern", Err: err}
			return out
		}
		got, warn, ok := match(re, cur)
		if warn != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("pattern %q: %s", p, warn))
		}
		if !ok {
			out.Err = &Error{Rule: rule.Name, Pattern: p, Msg: "no match"}
			return out
		}
		cur = got
	}
	out.Value = cur
	return out
}

func fallback(rule types.ExtractRule, text string, out Outcome) Outcome {
	var firstErr error
	for _, p := range rule.Patterns {
		re, err := compile(p)
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Rule: rule.Name, Pattern: p, Msg: "invalid pattern", Err: err}
			}
			out.Warnings = append(out.Warnings, fmt.Sprintf("pattern %q skipped: %v", p, err))
			continue
		}
		got, warn, ok := match(re, text)
		if !ok {
			continue
		}
		if warn != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("pattern %q: %s", p, warn))
		}
		out.Value = got
		return out
	}
	if firstErr != nil {
		out.Err = firstErr
		return out
	}
	out.Err = &Error{Rule: rule.Name, Msg: fmt.Sprintf("none of %d patterns matched", len(rule.Patterns))}
	return out
}

// match returns capture group 1 when the pattern has groups, otherwise the
// whole match with a warning.
func match(re *regexp.Regexp, text string) (string, string, bool) {
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return "", "", false
	}
	if re.NumSubexp() == 0 {
		return text[m[0]:m[1]], "no capture group, using full match", true
	}
	if m[2] < 0 {
		return "", "", false
	}
	return text[m[2]:m[3]], "", true
}

// Apply runs every rule against result and commits successful values to
// store in rule order. Failed rules leave the store untouched.
func Apply(store *vars.Store, rules []types.ExtractRule, result types.ExecutionResult) []Outcome {
	outcomes := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		o := Extract(rule, result)
		if o.OK() {
			store.SetString(rule.Name, o.Value)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}
