// Package param models parameter provenance: where each stored value came
// from, and the tuples used to address runs and elements across a workflow.
package param

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SourceKind is the kind of producer of a parameter value.
type SourceKind string

const (
	KindLocalInput    SourceKind = "local_input"
	KindSequenceValue SourceKind = "sequence_value"
	KindDefaultInput  SourceKind = "default_input"
	KindEAROutput     SourceKind = "EAR_output"
)

// Source records who produced a parameter value.
type Source struct {
	Kind         SourceKind `json:"type"`
	TaskInsertID int        `json:"task_insert_ID"`
	ElementIdx   *int       `json:"element_idx,omitempty"`
	ActionIdx    *int       `json:"action_idx,omitempty"`
	RunIdx       *int       `json:"run_idx,omitempty"`
	SequencePath string     `json:"sequence,omitempty"`
	SequenceIdx  *int       `json:"sequence_idx,omitempty"`
}

func intp(i int) *int { return &i }

// LocalInput is the source of a literal element-set input of task insertID.
func LocalInput(insertID int) Source {
	return Source{Kind: KindLocalInput, TaskInsertID: insertID}
}

// DefaultInput is the source of a schema default used by task insertID.
func DefaultInput(insertID int) Source {
	return Source{Kind: KindDefaultInput, TaskInsertID: insertID}
}

// SequenceValue is the source of value idx of the sequence at path.
func SequenceValue(insertID int, path string, idx int) Source {
	return Source{Kind: KindSequenceValue, TaskInsertID: insertID, SequencePath: path, SequenceIdx: intp(idx)}
}

// EAROutput is the source of a value written by the run k.
func EAROutput(k EARKey) Source {
	return Source{
		Kind:         KindEAROutput,
		TaskInsertID: k.TaskInsertID,
		ElementIdx:   intp(k.ElementIdx),
		ActionIdx:    intp(k.ActionIdx),
		RunIdx:       intp(k.RunIdx),
	}
}

// EARKey returns the producing run of an EAR_output source.
func (s Source) EARKey() (EARKey, bool) {
	if s.Kind != KindEAROutput || s.ElementIdx == nil || s.ActionIdx == nil || s.RunIdx == nil {
		return EARKey{}, false
	}
	return EARKey{TaskInsertID: s.TaskInsertID, ElementIdx: *s.ElementIdx, ActionIdx: *s.ActionIdx, RunIdx: *s.RunIdx}, true
}

func (s Source) String() string {
	if k, ok := s.EARKey(); ok {
		return fmt.Sprintf("%s%s", s.Kind, k)
	}
	if s.Kind == KindSequenceValue && s.SequenceIdx != nil {
		return fmt.Sprintf("%s(task=%d, %s[%d])", s.Kind, s.TaskInsertID, s.SequencePath, *s.SequenceIdx)
	}
	return fmt.Sprintf("%s(task=%d)", s.Kind, s.TaskInsertID)
}

// EARKey addresses one run: (task insert ID, element index, action index, run index).
type EARKey struct {
	TaskInsertID int `json:"task_insert_ID"`
	ElementIdx   int `json:"element_idx"`
	ActionIdx    int `json:"action_idx"`
	RunIdx       int `json:"run_idx"`
}

func (k EARKey) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", k.TaskInsertID, k.ElementIdx, k.ActionIdx, k.RunIdx)
}

// Element returns the element the run belongs to.
func (k EARKey) Element() ElementKey {
	return ElementKey{TaskInsertID: k.TaskInsertID, ElementIdx: k.ElementIdx}
}

// Less orders keys lexicographically.
func (k EARKey) Less(o EARKey) bool {
	if k.TaskInsertID != o.TaskInsertID {
		return k.TaskInsertID < o.TaskInsertID
	}
	if k.ElementIdx != o.ElementIdx {
		return k.ElementIdx < o.ElementIdx
	}
	if k.ActionIdx != o.ActionIdx {
		return k.ActionIdx < o.ActionIdx
	}
	return k.RunIdx < o.RunIdx
}

// ElementKey addresses one element: (task insert ID, element index).
type ElementKey struct {
	TaskInsertID int `json:"task_insert_ID"`
	ElementIdx   int `json:"element_idx"`
}

func (k ElementKey) String() string {
	return fmt.Sprintf("(%d, %d)", k.TaskInsertID, k.ElementIdx)
}

// Less orders keys lexicographically.
func (k ElementKey) Less(o ElementKey) bool {
	if k.TaskInsertID != o.TaskInsertID {
		return k.TaskInsertID < o.TaskInsertID
	}
	return k.ElementIdx < o.ElementIdx
}

// SortEARKeys sorts and de-duplicates keys.
func SortEARKeys(keys []EARKey) []EARKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// SortElementKeys sorts and de-duplicates keys.
func SortElementKeys(keys []ElementKey) []ElementKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// SortInts sorts and de-duplicates ids.
func SortInts(ids []int) []int {
	sort.Ints(ids)
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// DataIndex maps parameter paths (inputs.x, outputs.y, resources.any, ...)
// to parameter store handles.
type DataIndex map[string]int

// Filter returns the entries at path or below it. An empty path returns a copy.
func (d DataIndex) Filter(path string) DataIndex {
	out := DataIndex{}
	for k, v := range d {
		if path == "" || MatchesPath(k, path) {
			out[k] = v
		}
	}
	return out
}

// Merge copies the entries of o into d, overwriting existing keys.
func (d DataIndex) Merge(o DataIndex) {
	for k, v := range o {
		d[k] = v
	}
}

// Keys returns the sorted keys.
func (d DataIndex) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MatchesPath reports whether key equals path or lies below it.
func MatchesPath(key, path string) bool {
	return key == path || strings.HasPrefix(key, path+".")
}

// Prefix returns the first path segment: "inputs" for "inputs.x".
func Prefix(key string) string {
	p, _, _ := strings.Cut(key, ".")
	return p
}

// GetIn walks value by the dot-separated path. An empty path returns value.
func GetIn(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	cur := value
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: %q is not inside an object", path, part)
		}
		cur, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("path %q: no key %q", path, part)
		}
	}
	return cur, nil
}

// SetIn stores value at the dot-separated path inside root, creating
// intermediate objects.
func SetIn(root map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Entry is one parameter store record. A nil Value with Set false is the
// unset placeholder.
type Entry struct {
	Value  json.RawMessage `json:"data,omitempty"`
	Set    bool            `json:"is_set"`
	Source Source          `json:"source"`
}
