package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ScopeType classifies which part of an action an environment binding
// applies to. Larger values are more specific.
type ScopeType int

const (
	ScopeAny ScopeType = iota
	ScopeMain
	ScopeProcessing
	ScopeInputFileGenerator
	ScopeOutputFileParser
)

var scopeTypeNames = [...]string{
	ScopeAny:                "any",
	ScopeMain:               "main",
	ScopeProcessing:         "processing",
	ScopeInputFileGenerator: "input_file_generator",
	ScopeOutputFileParser:   "output_file_parser",
}

// allowedScopeKwargs lists the keyword arguments each scope type accepts.
var allowedScopeKwargs = map[ScopeType]map[string]bool{
	ScopeInputFileGenerator: {"file": true},
	ScopeOutputFileParser:   {"output": true},
}

// String returns the lower-case name of the scope type.
func (t ScopeType) String() string {
	if t < 0 || int(t) >= len(scopeTypeNames) {
		return fmt.Sprintf("ScopeType(%d)", int(t))
	}
	return scopeTypeNames[t]
}

// ParseScopeType parses a scope type name, case-insensitively.
func ParseScopeType(s string) (ScopeType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range scopeTypeNames {
		if n == name {
			return ScopeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action scope type %q", s)
}

// Scope is a (type, keyword arguments) pair identifying a subset of an
// action, e.g. input_file_generator[file=cfg.txt].
type Scope struct {
	Type   ScopeType
	Kwargs map[string]string
}

// NewScope validates kwargs against the scope type. Empty values are dropped.
func NewScope(typ ScopeType, kwargs map[string]string) (Scope, error) {
	var bad []string
	clean := make(map[string]string, len(kwargs))
	for k, v := range kwargs {
		if !allowedScopeKwargs[typ][k] {
			bad = append(bad, k)
			continue
		}
		if v != "" {
			clean[k] = v
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return Scope{}, &InvalidScopeError{Type: typ, Keys: bad}
	}
	if len(clean) == 0 {
		clean = nil
	}
	return Scope{Type: typ, Kwargs: clean}, nil
}

// AnyScope returns the ANY scope.
func AnyScope() Scope { return Scope{Type: ScopeAny} }

// MainScope returns the MAIN scope.
func MainScope() Scope { return Scope{Type: ScopeMain} }

// ProcessingScope returns the PROCESSING scope.
func ProcessingScope() Scope { return Scope{Type: ScopeProcessing} }

// InputFileGeneratorScope returns an INPUT_FILE_GENERATOR scope; an empty
// file matches any generator.
func InputFileGeneratorScope(file string) Scope {
	s := Scope{Type: ScopeInputFileGenerator}
	if file != "" {
		s.Kwargs = map[string]string{"file": file}
	}
	return s
}

// OutputFileParserScope returns an OUTPUT_FILE_PARSER scope; an empty output
// matches any parser.
func OutputFileParserScope(output string) Scope {
	s := Scope{Type: ScopeOutputFileParser}
	if output != "" {
		s.Kwargs = map[string]string{"output": output}
	}
	return s
}

var scopeRe = regexp.MustCompile(`^(\w*)(?:\[(.*)\])?$`)

// ParseScope parses the string form produced by Scope.String.
func ParseScope(s string) (Scope, error) {
	m := scopeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Scope{}, fmt.Errorf("invalid action scope %q", s)
	}
	typ, err := ParseScopeType(m[1])
	if err != nil {
		return Scope{}, err
	}
	kwargs := make(map[string]string)
	if m[2] != "" {
		for _, part := range strings.Split(m[2], ",") {
			name, val, ok := strings.Cut(part, "=")
			if !ok {
				return Scope{}, fmt.Errorf("invalid action scope argument %q in %q", part, s)
			}
			kwargs[strings.TrimSpace(name)] = strings.TrimSpace(val)
		}
	}
	return NewScope(typ, kwargs)
}

// String renders the scope as type[key=value, ...] with sorted keys.
func (s Scope) String() string {
	if len(s.Kwargs) == 0 {
		return s.Type.String()
	}
	keys := make([]string, 0, len(s.Kwargs))
	for k := range s.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + s.Kwargs[k]
	}
	return s.Type.String() + "[" + strings.Join(parts, ", ") + "]"
}

// Equal reports whether both scopes have the same type and keyword arguments.
func (s Scope) Equal(o Scope) bool {
	if s.Type != o.Type || len(s.Kwargs) != len(o.Kwargs) {
		return false
	}
	for k, v := range s.Kwargs {
		if o.Kwargs[k] != v {
			return false
		}
	}
	return true
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the string form or {"type": ..., "kwargs": {...}}.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsed, err := ParseScope(str)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var obj struct {
		Type   string            `json:"type"`
		Kwargs map[string]string `json:"kwargs"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode action scope: %w", err)
	}
	typ, err := ParseScopeType(obj.Type)
	if err != nil {
		return err
	}
	parsed, err := NewScope(typ, obj.Kwargs)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
