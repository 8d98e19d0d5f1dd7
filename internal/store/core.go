package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

// core implements Store over a persister. Reads are served from the live
// document; committed mirrors what is on disk.
type core struct {
	path      string
	format    Format
	p         persister
	logger    *slog.Logger
	committed *document
	live      *document
	dirty     *dirtySet
	rev       string
	cached    int
	values    map[int]any
	closed    bool
}

func newCore(path string, format Format, p persister, doc *document, logger *slog.Logger) (*core, error) {
	live, err := doc.clone()
	if err != nil {
		p.close()
		return nil, err
	}
	rev, err := p.revision()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("read revision of %s: %w", path, err)
	}
	return &core{
		path:      path,
		format:    format,
		p:         p,
		logger:    logger,
		committed: doc,
		live:      live,
		dirty:     newDirtySet(),
		rev:       rev,
	}, nil
}

func (c *core) Path() string   { return c.path }
func (c *core) Format() Format { return c.format }
func (c *core) ID() string     { return c.committed.ID }

func (c *core) CachedLoad() (func(), error) {
	if c.closed {
		return nil, errors.New("store is closed")
	}
	if c.cached == 0 {
		c.values = map[int]any{}
	}
	c.cached++
	c.logger.Debug("store", "op", "cached_load", "depth", c.cached)
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		if c.cached--; c.cached == 0 {
			c.values = nil
		}
	}, nil
}

func (c *core) Template() (*TemplateRecord, error) {
	return &TemplateRecord{Name: c.live.TemplateName, Tasks: c.live.Tasks}, nil
}

func (c *core) TemplateComponents() (map[component.Kind][]template.ComponentEntry, error) {
	return c.live.Components, nil
}

func (c *core) AddTemplateComponents(comps map[component.Kind][]template.ComponentEntry) error {
	for kind, entries := range comps {
		for _, e := range entries {
			if slices.ContainsFunc(c.live.Components[kind], func(x template.ComponentEntry) bool { return x.Hash == e.Hash }) {
				continue
			}
			c.live.Components[kind] = append(c.live.Components[kind], e)
			c.dirty.components = true
		}
	}
	c.logger.Debug("store", "op", "add_template_components")
	return nil
}

func (c *core) AddEmptyTask(index, insertID int, task json.RawMessage) error {
	if want := c.committed.NumAddedTasks + 1; insertID != want {
		return fmt.Errorf("add task: insert ID %d, want %d", insertID, want)
	}
	if index < 0 || index > len(c.live.Tasks) {
		return fmt.Errorf("add task: index %d out of range [0, %d]", index, len(c.live.Tasks))
	}
	c.committed.NumAddedTasks = insertID
	rev, err := c.p.writeMeta(c.committed, c.rev)
	if err != nil {
		c.committed.NumAddedTasks = insertID - 1
		return fmt.Errorf("add task: write task counter: %w", err)
	}
	c.live.NumAddedTasks = insertID
	c.rev = rev

	rec := &TaskRecord{InsertID: insertID, Template: task, ElementSets: []json.RawMessage{}, Elements: []*ElementRecord{}}
	c.live.Tasks = slices.Insert(c.live.Tasks, index, rec)
	c.dirty.tasks[insertID] = true
	c.logger.Debug("store", "op", "add_empty_task", "index", index, "insert_id", insertID)
	return nil
}

func (c *core) NumAddedTasks() int { return c.live.NumAddedTasks }

func (c *core) AllTasksMetadata() ([]TaskMetadata, error) {
	out := make([]TaskMetadata, len(c.live.Tasks))
	for i, t := range c.live.Tasks {
		out[i] = TaskMetadata{InsertID: t.InsertID, NumElements: len(t.Elements), NumElementSets: len(t.ElementSets)}
	}
	return out, nil
}

func (c *core) AddElementSet(insertID int, es json.RawMessage) (int, error) {
	t, err := c.live.task(insertID)
	if err != nil {
		return 0, err
	}
	t.ElementSets = append(t.ElementSets, es)
	c.dirty.tasks[insertID] = true
	return len(t.ElementSets) - 1, nil
}

func (c *core) AddElements(insertID int, elems []*ElementRecord) error {
	t, err := c.live.task(insertID)
	if err != nil {
		return err
	}
	global := c.live.numElements()
	for i, e := range elems {
		e.Index = len(t.Elements)
		e.GlobalIdx = global + i
		if e.Runs == nil {
			e.Runs = map[int][]RunRecord{}
		}
		t.Elements = append(t.Elements, e)
		c.dirty.elements[param.ElementKey{TaskInsertID: insertID, ElementIdx: e.Index}] = true
	}
	c.logger.Debug("store", "op", "add_elements", "insert_id", insertID, "count", len(elems))
	return nil
}

func (c *core) TaskElements(insertID int, selection []int) ([]*ElementRecord, error) {
	t, err := c.live.task(insertID)
	if err != nil {
		return nil, err
	}
	if selection == nil {
		return t.Elements, nil
	}
	out := make([]*ElementRecord, 0, len(selection))
	for _, i := range selection {
		if i < 0 || i >= len(t.Elements) {
			return nil, fmt.Errorf("task %d has no element %d", insertID, i)
		}
		out = append(out, t.Elements[i])
	}
	return out, nil
}

func (c *core) NumElements() int { return c.live.numElements() }

func (c *core) AddElementActionRun(insertID, elementIdx, actionIdx int, run RunRecord) (int, error) {
	elems, err := c.TaskElements(insertID, []int{elementIdx})
	if err != nil {
		return 0, err
	}
	e := elems[0]
	if e.Runs == nil {
		e.Runs = map[int][]RunRecord{}
	}
	e.Runs[actionIdx] = append(e.Runs[actionIdx], run)
	c.dirty.elements[param.ElementKey{TaskInsertID: insertID, ElementIdx: elementIdx}] = true
	return len(e.Runs[actionIdx]) - 1, nil
}

func (c *core) AddParameterData(value any, src param.Source) (int, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode parameter: %w", err)
	}
	return c.addParameter(&param.Entry{Value: data, Set: true, Source: src}), nil
}

func (c *core) AddUnsetParameterData(src param.Source) (int, error) {
	return c.addParameter(&param.Entry{Source: src}), nil
}

func (c *core) addParameter(e *param.Entry) int {
	c.live.Parameters = append(c.live.Parameters, e)
	h := len(c.live.Parameters) - 1
	c.dirty.params[h] = true
	return h
}

func (c *core) SetParameter(handle int, value any, src *param.Source) error {
	e, err := c.live.parameter(handle)
	if err != nil {
		return err
	}
	if e.Set {
		return fmt.Errorf("%w: handle %d", ErrParameterAlreadySet, handle)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode parameter: %w", err)
	}
	e.Value, e.Set = data, true
	if src != nil {
		e.Source = *src
	}
	c.dirty.params[handle] = true
	delete(c.values, handle)
	return nil
}

func (c *core) ParameterData(handle int) (any, bool, error) {
	e, err := c.live.parameter(handle)
	if err != nil {
		return nil, false, err
	}
	if !e.Set {
		return nil, false, nil
	}
	if v, ok := c.values[handle]; ok {
		return v, true, nil
	}
	var v any
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, false, fmt.Errorf("decode parameter %d: %w", handle, err)
	}
	if c.values != nil {
		c.values[handle] = v
	}
	return v, true, nil
}

func (c *core) ParameterSource(handle int) (param.Source, error) {
	e, err := c.live.parameter(handle)
	if err != nil {
		return param.Source{}, err
	}
	return e.Source, nil
}

func (c *core) IsParameterSet(handle int) (bool, error) {
	e, err := c.live.parameter(handle)
	if err != nil {
		return false, err
	}
	return e.Set, nil
}

func (c *core) CheckParametersExist(handles []int) (bool, error) {
	for _, h := range handles {
		if h < 0 || h >= len(c.live.Parameters) {
			return false, nil
		}
	}
	return true, nil
}

func (c *core) HasPending() bool { return !c.dirty.empty() }

func (c *core) IsModifiedOnDisk() (bool, error) {
	rev, err := c.p.revision()
	if err != nil {
		return false, fmt.Errorf("read revision of %s: %w", c.path, err)
	}
	return rev != c.rev, nil
}

func (c *core) CommitPending() error {
	if !c.HasPending() {
		return nil
	}
	rev, err := c.p.writeDocument(c.live, c.dirty, c.rev)
	if err != nil {
		return fmt.Errorf("commit %s: %w", c.path, err)
	}
	committed, err := c.live.clone()
	if err != nil {
		return err
	}
	c.committed, c.rev, c.dirty = committed, rev, newDirtySet()
	c.logger.Debug("store", "op", "commit", "path", c.path)
	return nil
}

func (c *core) RejectPending() error {
	live, err := c.committed.clone()
	if err != nil {
		return err
	}
	c.live, c.dirty = live, newDirtySet()
	if c.values != nil {
		c.values = map[int]any{}
	}
	c.logger.Debug("store", "op", "reject", "path", c.path)
	return nil
}

func (c *core) RemoveReplacedFile() error {
	replaced := c.committed.ReplacedFile
	if replaced == "" {
		return nil
	}
	for _, f := range sidecars(replaced, c.format) {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove replaced file: %w", err)
		}
	}
	c.committed.ReplacedFile, c.live.ReplacedFile = "", ""
	rev, err := c.p.writeMeta(c.committed, c.rev)
	if err != nil {
		return err
	}
	c.rev = rev
	c.logger.Debug("store", "op", "remove_replaced_file", "file", replaced)
	return nil
}

func (c *core) ReinstateReplacedFile() error {
	replaced := c.committed.ReplacedFile
	if replaced == "" {
		return nil
	}
	if _, err := os.Stat(c.path); err == nil {
		return fmt.Errorf("reinstate %s: %w", replaced, ErrPathExists)
	}
	if err := moveFiles(replaced, c.path, c.format); err != nil {
		return fmt.Errorf("reinstate %s: %w", replaced, err)
	}
	c.logger.Debug("store", "op", "reinstate_replaced_file", "file", replaced)
	return nil
}

func (c *core) DeleteNoConfirm() error {
	if err := c.Close(); err != nil {
		return err
	}
	for _, f := range c.p.files() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", f, err)
		}
	}
	c.logger.Debug("store", "op", "delete", "path", c.path)
	return nil
}

func (c *core) Delete() error {
	if c.HasPending() {
		return fmt.Errorf("delete %s: %w", c.path, ErrPendingChanges)
	}
	return c.DeleteNoConfirm()
}

func (c *core) Copy(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("copy to %s: %w", path, ErrPathExists)
	}
	if err := c.p.copyTo(path); err != nil {
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	c.logger.Debug("store", "op", "copy", "path", c.path, "dest", path)
	return nil
}

func (c *core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.p.close()
}

func sidecars(path string, format Format) []string {
	if format == FormatSQLite {
		return []string{path, path + "-wal", path + "-shm"}
	}
	return []string{path}
}
