package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

// document is the full persisted state of a workflow.
type document struct {
	ID            string                                       `json:"id"`
	CreatedAt     string                                       `json:"created_at"`
	TemplateName  string                                       `json:"template_name"`
	NumAddedTasks int                                          `json:"num_added_tasks"`
	ReplacedFile  string                                       `json:"replaced_file,omitempty"`
	Components    map[component.Kind][]template.ComponentEntry `json:"template_components"`
	Tasks         []*TaskRecord                                `json:"tasks"`
	Parameters    []*param.Entry                               `json:"parameters"`
}

func newDocument(name string, comps map[component.Kind][]template.ComponentEntry) *document {
	doc := &document{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		TemplateName: name,
		Components:   map[component.Kind][]template.ComponentEntry{},
	}
	for k, v := range comps {
		doc.Components[k] = append([]template.ComponentEntry(nil), v...)
	}
	return doc
}

func (d *document) clone() (*document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var c document
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	if c.Components == nil {
		c.Components = map[component.Kind][]template.ComponentEntry{}
	}
	return &c, nil
}

func (d *document) task(insertID int) (*TaskRecord, error) {
	for _, t := range d.Tasks {
		if t.InsertID == insertID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no task with insert ID %d", insertID)
}

func (d *document) numElements() int {
	n := 0
	for _, t := range d.Tasks {
		n += len(t.Elements)
	}
	return n
}

func (d *document) parameter(handle int) (*param.Entry, error) {
	if handle < 0 || handle >= len(d.Parameters) {
		return nil, fmt.Errorf("no parameter with handle %d", handle)
	}
	return d.Parameters[handle], nil
}

// dirtySet records which parts of the live document differ from disk.
type dirtySet struct {
	all        bool
	tasks      map[int]bool
	elements   map[param.ElementKey]bool
	params     map[int]bool
	components bool
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		tasks:    map[int]bool{},
		elements: map[param.ElementKey]bool{},
		params:   map[int]bool{},
	}
}

func (d *dirtySet) empty() bool {
	return !d.all && !d.components && len(d.tasks) == 0 && len(d.elements) == 0 && len(d.params) == 0
}

// persister is the backend-specific part of a store.
type persister interface {
	readDocument() (*document, error)
	// writeDocument persists the dirty parts of doc and returns the new
	// revision. It fails with ErrModifiedOnDisk unless the stored revision
	// is expect.
	writeDocument(doc *document, dirty *dirtySet, expect string) (string, error)
	// writeMeta persists the write-through fields of doc, under the same
	// revision check as writeDocument.
	writeMeta(doc *document, expect string) (string, error)
	revision() (string, error)
	copyTo(path string) error
	close() error
	files() []string
}
