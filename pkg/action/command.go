package action

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	parameterRe   = regexp.MustCompile(`<<parameter:(.*?)>>`)
	placeholderRe = regexp.MustCompile(`<<(executable|parameter|script|file):(.*?)>>`)
)

// Command is one shell command of an action. Stdout and Stderr may capture
// the stream into a parameter with a <<parameter:name>> spec.
type Command struct {
	Command string `json:"command" yaml:"command" mapstructure:"command"`
	Stdout  string `json:"stdout,omitempty" yaml:"stdout" mapstructure:"stdout"`
	Stderr  string `json:"stderr,omitempty" yaml:"stderr" mapstructure:"stderr"`
}

// InputTypes returns the parameter placeholders in the command text.
func (c Command) InputTypes() []string {
	var out []string
	for _, m := range parameterRe.FindAllStringSubmatch(c.Command, -1) {
		out = append(out, m[1])
	}
	return out
}

// OutputTypes returns parameters captured from stdout/stderr. A capture spec
// containing a placeholder must consist of exactly that placeholder.
func (c Command) OutputTypes() ([]string, error) {
	var out []string
	for _, s := range []struct{ label, spec string }{{"stdout", c.Stdout}, {"stderr", c.Stderr}} {
		if s.spec == "" {
			continue
		}
		loc := parameterRe.FindStringSubmatchIndex(s.spec)
		if loc == nil {
			continue
		}
		if loc[0] != 0 || loc[1] != len(s.spec) {
			return nil, &CaptureSpecError{Stream: s.label, Spec: s.spec}
		}
		out = append(out, s.spec[loc[2]:loc[3]])
	}
	return out, nil
}

// scriptCommand is the command used to run a generator or parser script.
func scriptCommand(script string) Command {
	return Command{Command: fmt.Sprintf("<<executable:python>> <<script:%s>>", script)}
}

// Resolver supplies values for command placeholders.
type Resolver struct {
	// Parameter returns the value of an input parameter by type.
	Parameter func(name string) (any, error)
	// Executable returns the command for an executable label.
	Executable func(label string) (string, error)
	// File returns the file name bound to a file label.
	File func(label string) (string, error)
}

// Resolve substitutes every placeholder in the command text.
func (c Command) Resolve(r Resolver) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(c.Command, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := placeholderRe.FindStringSubmatch(m)
		typ, val := sub[1], sub[2]
		var (
			s   string
			err error
		)
		switch typ {
		case "executable":
			s, err = r.Executable(val)
		case "parameter":
			var v any
			v, err = r.Parameter(val)
			s = formatValue(v)
		case "script":
			s = strconv.Quote(val)
		case "file":
			s, err = r.File(val)
		}
		if err != nil {
			firstErr = fmt.Errorf("resolve <<%s:%s>>: %w", typ, val, err)
			return m
		}
		return s
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}

// sortedUnique returns the distinct strings of in, sorted.
func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
