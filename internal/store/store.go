// Package store persists workflows. A Store stages every write in memory
// until CommitPending, and two backends are available: a single JSON
// document and a SQLite database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrPathExists          = errors.New("path already exists")
	ErrParameterAlreadySet = errors.New("parameter already set")
	ErrUnknownFormat       = errors.New("unknown store format")
	ErrPendingChanges      = errors.New("store has uncommitted changes")
	ErrModifiedOnDisk      = errors.New("store was modified on disk")
)

// Format identifies a store backend.
type Format string

const (
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
)

// Ext returns the file suffix of the format.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatSQLite:
		return ".db"
	}
	return ""
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatSQLite, "db":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatOf selects a backend by path suffix.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".db", ".sqlite":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// TaskRecord is a persisted task. Template holds the task's template JSON
// without its element sets, which are kept in ElementSets.
type TaskRecord struct {
	InsertID    int               `json:"insert_ID"`
	Template    json.RawMessage   `json:"template"`
	ElementSets []json.RawMessage `json:"element_sets"`
	Elements    []*ElementRecord  `json:"elements"`
}

// TaskMetadata summarizes one task.
type TaskMetadata struct {
	InsertID       int
	NumElements    int
	NumElementSets int
}

// ElementRecord is a persisted element. Runs holds the run history of each
// action the element has started, keyed by action index.
type ElementRecord struct {
	Index            int                 `json:"index"`
	GlobalIdx        int                 `json:"global_idx"`
	ElementSetIdx    int                 `json:"element_set_idx"`
	SequenceIdx      map[string]int      `json:"sequence_idx,omitempty"`
	LoopIdx          map[string]int      `json:"loop_idx,omitempty"`
	SchemaParameters []string            `json:"schema_parameters"`
	DataIdx          param.DataIndex     `json:"data_idx"`
	Runs             map[int][]RunRecord `json:"actions,omitempty"`
}

// RunRecord is one persisted element action run.
type RunRecord struct {
	DataIdx param.DataIndex `json:"data_idx"`
}

// TemplateRecord is the persisted template: its name and its tasks in order.
type TemplateRecord struct {
	Name  string
	Tasks []*TaskRecord
}

// Store is the persistence contract of a workflow.
type Store interface {
	Path() string
	Format() Format
	ID() string

	// CachedLoad opens a read scope in which decoded parameter values are
	// reused. Scopes nest; the cache is dropped when the outermost scope is
	// released. Cached values are shared and must not be modified.
	CachedLoad() (release func(), err error)

	Template() (*TemplateRecord, error)
	TemplateComponents() (map[component.Kind][]template.ComponentEntry, error)
	AddTemplateComponents(comps map[component.Kind][]template.ComponentEntry) error

	// AddEmptyTask inserts a task at index. insertID must be NumAddedTasks()+1;
	// the counter is written through and is not rewound by RejectPending.
	AddEmptyTask(index, insertID int, task json.RawMessage) error
	NumAddedTasks() int
	AllTasksMetadata() ([]TaskMetadata, error)
	AddElementSet(insertID int, es json.RawMessage) (int, error)
	// AddElements appends elements to a task, assigning their local and
	// global indices.
	AddElements(insertID int, elems []*ElementRecord) error
	// TaskElements returns the elements of a task; nil selection means all.
	TaskElements(insertID int, selection []int) ([]*ElementRecord, error)
	NumElements() int
	AddElementActionRun(insertID, elementIdx, actionIdx int, run RunRecord) (int, error)

	AddParameterData(value any, src param.Source) (int, error)
	AddUnsetParameterData(src param.Source) (int, error)
	// SetParameter sets an unset parameter. A non-nil src replaces its source.
	SetParameter(handle int, value any, src *param.Source) error
	ParameterData(handle int) (value any, set bool, err error)
	ParameterSource(handle int) (param.Source, error)
	IsParameterSet(handle int) (bool, error)
	CheckParametersExist(handles []int) (bool, error)

	HasPending() bool
	IsModifiedOnDisk() (bool, error)
	CommitPending() error
	RejectPending() error
	RemoveReplacedFile() error
	ReinstateReplacedFile() error
	// DeleteNoConfirm removes the store from disk regardless of pending writes.
	DeleteNoConfirm() error
	// Delete removes the store from disk; it fails with pending writes.
	Delete() error
	Copy(path string) error
	Close() error
}

// Create writes an empty workflow at path (WriteEmptyWorkflow). If path
// exists and overwrite is set, the existing file is moved aside and kept as
// the replaced file until RemoveReplacedFile or ReinstateReplacedFile.
func Create(path, name string, comps map[component.Kind][]template.ComponentEntry, overwrite bool, logger *slog.Logger) (Store, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	logger = logger.With("component", "store")

	var replaced string
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrPathExists, path)
		}
		replaced = fmt.Sprintf("%s.%s", path, uuid.NewString()[:8])
		if err := moveFiles(path, replaced, format); err != nil {
			return nil, fmt.Errorf("move existing %s aside: %w", path, err)
		}
		logger.Debug("store", "op", "replace", "path", path, "backup", replaced)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	doc := newDocument(name, comps)
	doc.ReplacedFile = replaced

	var p persister
	switch format {
	case FormatJSON:
		p, err = createJSON(path, doc)
	case FormatSQLite:
		p, err = createSQLite(path, doc)
	}
	if err != nil {
		if replaced != "" {
			if rerr := moveFiles(replaced, path, format); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return nil, err
	}
	logger.Debug("store", "op", "create", "path", path, "format", format)
	return newCore(path, format, p, doc, logger)
}

// Open opens an existing workflow store.
func Open(path string, logger *slog.Logger) (Store, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, path)
		}
		return nil, err
	}
	logger = logger.With("component", "store")

	var p persister
	switch format {
	case FormatJSON:
		p = &jsonPersister{path: path}
	case FormatSQLite:
		p, err = openSQLite(path)
		if err != nil {
			return nil, err
		}
	}
	doc, err := p.readDocument()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	logger.Debug("store", "op", "open", "path", path, "format", format)
	return newCore(path, format, p, doc, logger)
}

// moveFiles renames a store and, for SQLite, its sidecar files.
func moveFiles(from, to string, format Format) error {
	if err := os.Rename(from, to); err != nil {
		return err
	}
	if format == FormatSQLite {
		for _, sfx := range []string{"-wal", "-shm"} {
			if err := os.Rename(from+sfx, to+sfx); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}
