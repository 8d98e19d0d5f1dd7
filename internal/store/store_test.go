package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

var formats = []Format{FormatJSON, FormatSQLite}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testComponents() map[component.Kind][]template.ComponentEntry {
	return map[component.Kind][]template.ComponentEntry{
		component.KindEnvironments: {{Hash: "h1", Data: json.RawMessage(`{"name":"env"}`)}},
	}
}

func testStore(t *testing.T, format Format) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf"+format.Ext())
	st, err := Create(path, "wf", testComponents(), false, testLogger())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// addTask adds a task with one element holding one set parameter, and commits.
func addTask(t *testing.T, st Store, index int) int {
	t.Helper()
	id := st.NumAddedTasks() + 1
	if err := st.AddEmptyTask(index, id, json.RawMessage(`{"insert_ID":`+jsonInt(id)+`}`)); err != nil {
		t.Fatalf("AddEmptyTask: %v", err)
	}
	if _, err := st.AddElementSet(id, json.RawMessage(`{"repeats":1}`)); err != nil {
		t.Fatalf("AddElementSet: %v", err)
	}
	h, err := st.AddParameterData(1.5, param.LocalInput(id))
	if err != nil {
		t.Fatalf("AddParameterData: %v", err)
	}
	err = st.AddElements(id, []*ElementRecord{{
		SchemaParameters: []string{"inputs.x"},
		DataIdx:          param.DataIndex{"inputs.x": h},
	}})
	if err != nil {
		t.Fatalf("AddElements: %v", err)
	}
	return id
}

func jsonInt(i int) string {
	data, _ := json.Marshal(i)
	return string(data)
}

func TestStore_CommitAndReopen(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			id1 := addTask(t, st, 0)
			id2 := addTask(t, st, 0)
			if _, err := st.AddElementActionRun(id1, 0, 0, RunRecord{DataIdx: param.DataIndex{"inputs.x": 0}}); err != nil {
				t.Fatalf("AddElementActionRun: %v", err)
			}
			if !st.HasPending() {
				t.Fatal("expected pending writes")
			}
			if err := st.CommitPending(); err != nil {
				t.Fatalf("CommitPending: %v", err)
			}
			if st.HasPending() {
				t.Error("pending writes after commit")
			}
			path := st.Path()
			st.Close()

			re, err := Open(path, testLogger())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer re.Close()
			meta, err := re.AllTasksMetadata()
			if err != nil {
				t.Fatalf("AllTasksMetadata: %v", err)
			}
			want := []TaskMetadata{
				{InsertID: id2, NumElements: 1, NumElementSets: 1},
				{InsertID: id1, NumElements: 1, NumElementSets: 1},
			}
			if diff := cmp.Diff(want, meta); diff != "" {
				t.Errorf("metadata (-want +got):\n%s", diff)
			}
			elems, err := re.TaskElements(id1, nil)
			if err != nil {
				t.Fatalf("TaskElements: %v", err)
			}
			if len(elems[0].Runs[0]) != 1 {
				t.Errorf("runs = %v, want one run of action 0", elems[0].Runs)
			}
			if elems[0].GlobalIdx != 0 {
				t.Errorf("GlobalIdx = %d, want 0", elems[0].GlobalIdx)
			}
			v, set, err := re.ParameterData(elems[0].DataIdx["inputs.x"])
			if err != nil || !set || v != 1.5 {
				t.Errorf("ParameterData = %v, %v, %v; want 1.5", v, set, err)
			}
			comps, err := re.TemplateComponents()
			if err != nil {
				t.Fatalf("TemplateComponents: %v", err)
			}
			if len(comps[component.KindEnvironments]) != 1 {
				t.Errorf("components = %v", comps)
			}
			if re.NumAddedTasks() != 2 {
				t.Errorf("NumAddedTasks = %d, want 2", re.NumAddedTasks())
			}
		})
	}
}

func TestStore_RejectKeepsTaskCounter(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			addTask(t, st, 0)
			if err := st.RejectPending(); err != nil {
				t.Fatalf("RejectPending: %v", err)
			}
			if st.HasPending() {
				t.Error("pending writes after reject")
			}
			meta, _ := st.AllTasksMetadata()
			if len(meta) != 0 {
				t.Errorf("tasks = %d, want 0", len(meta))
			}
			if st.NumAddedTasks() != 1 {
				t.Errorf("NumAddedTasks = %d, want 1", st.NumAddedTasks())
			}
			if ok, _ := st.CheckParametersExist([]int{0}); ok {
				t.Error("rejected parameter still exists")
			}
			if err := st.AddEmptyTask(0, 1, json.RawMessage(`{}`)); err == nil {
				t.Error("expected error reusing insert ID 1")
			}
			if id := addTask(t, st, 0); id != 2 {
				t.Errorf("insert ID = %d, want 2", id)
			}
			if mod, err := st.IsModifiedOnDisk(); err != nil || mod {
				t.Errorf("IsModifiedOnDisk = %v, %v; want false", mod, err)
			}
		})
	}
}

func TestStore_ModifiedOnDisk(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			other, err := Open(st.Path(), testLogger())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer other.Close()

			if mod, err := st.IsModifiedOnDisk(); err != nil || mod {
				t.Fatalf("IsModifiedOnDisk = %v, %v; want false", mod, err)
			}
			if _, err := other.AddParameterData("x", param.LocalInput(0)); err != nil {
				t.Fatal(err)
			}
			if err := other.CommitPending(); err != nil {
				t.Fatalf("CommitPending: %v", err)
			}
			if mod, err := st.IsModifiedOnDisk(); err != nil || !mod {
				t.Errorf("IsModifiedOnDisk = %v, %v; want true", mod, err)
			}

			if err := st.AddEmptyTask(0, 1, json.RawMessage(`{}`)); !errors.Is(err, ErrModifiedOnDisk) {
				t.Errorf("AddEmptyTask err = %v, want ErrModifiedOnDisk", err)
			}
			if st.NumAddedTasks() != 0 {
				t.Errorf("NumAddedTasks = %d, want 0", st.NumAddedTasks())
			}
			if _, err := st.AddParameterData("y", param.LocalInput(0)); err != nil {
				t.Fatal(err)
			}
			if err := st.CommitPending(); !errors.Is(err, ErrModifiedOnDisk) {
				t.Errorf("CommitPending err = %v, want ErrModifiedOnDisk", err)
			}
		})
	}
}

func TestStore_TaskCounterSharedBetweenHandles(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			addTask(t, st, 0)
			if err := st.CommitPending(); err != nil {
				t.Fatalf("CommitPending: %v", err)
			}
			other, err := Open(st.Path(), testLogger())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer other.Close()

			if id := addTask(t, other, 1); id != 2 {
				t.Fatalf("insert ID = %d, want 2", id)
			}
			if err := st.AddEmptyTask(1, 2, json.RawMessage(`{}`)); !errors.Is(err, ErrModifiedOnDisk) {
				t.Errorf("AddEmptyTask err = %v, want ErrModifiedOnDisk", err)
			}
			if err := other.CommitPending(); err != nil {
				t.Fatalf("CommitPending: %v", err)
			}

			r, err := Open(st.Path(), testLogger())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer r.Close()
			if r.NumAddedTasks() != 2 {
				t.Errorf("NumAddedTasks = %d, want 2", r.NumAddedTasks())
			}
			meta, _ := r.AllTasksMetadata()
			if len(meta) != 2 {
				t.Errorf("tasks = %d, want 2", len(meta))
			}
		})
	}
}

func TestStore_SetParameter(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			h, err := st.AddUnsetParameterData(param.LocalInput(1))
			if err != nil {
				t.Fatal(err)
			}
			if set, _ := st.IsParameterSet(h); set {
				t.Error("new parameter should be unset")
			}
			src := param.EAROutput(param.EARKey{TaskInsertID: 1})
			if err := st.SetParameter(h, map[string]any{"a": 1.0}, &src); err != nil {
				t.Fatalf("SetParameter: %v", err)
			}
			if err := st.SetParameter(h, 2, nil); !errors.Is(err, ErrParameterAlreadySet) {
				t.Errorf("err = %v, want ErrParameterAlreadySet", err)
			}
			got, err := st.ParameterSource(h)
			if err != nil || got.Kind != param.KindEAROutput {
				t.Errorf("ParameterSource = %v, %v", got, err)
			}
		})
	}
}

func TestCreate_Overwrite(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "wf"+f.Ext())
			first, err := Create(path, "first", nil, false, testLogger())
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			firstID := first.ID()
			first.Close()

			if _, err := Create(path, "second", nil, false, testLogger()); !errors.Is(err, ErrPathExists) {
				t.Fatalf("err = %v, want ErrPathExists", err)
			}
			second, err := Create(path, "second", nil, true, testLogger())
			if err != nil {
				t.Fatalf("Create(overwrite): %v", err)
			}
			if err := second.DeleteNoConfirm(); err != nil {
				t.Fatalf("DeleteNoConfirm: %v", err)
			}
			if err := second.ReinstateReplacedFile(); err != nil {
				t.Fatalf("ReinstateReplacedFile: %v", err)
			}
			re, err := Open(path, testLogger())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer re.Close()
			if re.ID() != firstID {
				t.Errorf("ID = %s, want the replaced workflow %s", re.ID(), firstID)
			}
		})
	}
}

func TestStore_RemoveReplacedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Create(path, "wf", nil, true, testLogger())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer st.Close()
	matches, _ := filepath.Glob(path + ".*")
	if len(matches) != 1 {
		t.Fatalf("backups = %v, want one", matches)
	}
	if err := st.RemoveReplacedFile(); err != nil {
		t.Fatalf("RemoveReplacedFile: %v", err)
	}
	if _, err := os.Stat(matches[0]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup still present: %v", err)
	}
}

func TestStore_CopyAndDelete(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			st := testStore(t, f)
			addTask(t, st, 0)
			if err := st.Delete(); !errors.Is(err, ErrPendingChanges) {
				t.Errorf("Delete err = %v, want ErrPendingChanges", err)
			}
			if err := st.CommitPending(); err != nil {
				t.Fatal(err)
			}
			dst := filepath.Join(t.TempDir(), "copy"+f.Ext())
			if err := st.Copy(dst); err != nil {
				t.Fatalf("Copy: %v", err)
			}
			cp, err := Open(dst, testLogger())
			if err != nil {
				t.Fatalf("Open copy: %v", err)
			}
			if cp.NumElements() != 1 {
				t.Errorf("copy NumElements = %d, want 1", cp.NumElements())
			}
			cp.Close()

			if err := st.Delete(); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := Open(st.Path(), testLogger()); !errors.Is(err, ErrWorkflowNotFound) {
				t.Errorf("err = %v, want ErrWorkflowNotFound", err)
			}
		})
	}
}

func TestStore_CachedLoadNests(t *testing.T) {
	st := testStore(t, FormatJSON)
	c := st.(*core)
	h, err := st.AddParameterData(map[string]any{"a": 1.0}, param.LocalInput(1))
	if err != nil {
		t.Fatal(err)
	}
	unset, err := st.AddUnsetParameterData(param.LocalInput(1))
	if err != nil {
		t.Fatal(err)
	}

	outer, err := st.CachedLoad()
	if err != nil {
		t.Fatal(err)
	}
	inner, err := st.CachedLoad()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.ParameterData(h); err != nil {
		t.Fatalf("ParameterData: %v", err)
	}
	if _, ok := c.values[h]; !ok {
		t.Error("value not cached inside scope")
	}
	if _, set, _ := st.ParameterData(unset); set {
		t.Error("unset parameter reported set")
	}
	if err := st.SetParameter(unset, 2.5, nil); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	if v, set, err := st.ParameterData(unset); err != nil || !set || v != 2.5 {
		t.Errorf("ParameterData after set = %v, %v, %v; want 2.5", v, set, err)
	}

	inner()
	inner()
	if c.values == nil {
		t.Error("cache dropped while outer scope is open")
	}
	outer()
	if c.cached != 0 {
		t.Errorf("cached depth = %d, want 0", c.cached)
	}
	if c.values != nil {
		t.Error("cache kept after outermost release")
	}
	if _, _, err := st.ParameterData(h); err != nil {
		t.Fatalf("ParameterData: %v", err)
	}
	if c.values != nil {
		t.Error("value cached outside a scope")
	}
}

func TestOpen_NewerSchemaVersion(t *testing.T) {
	st := testStore(t, FormatSQLite)
	path := st.Path()
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("write user_version: %v", err)
	}
	db.Close()

	if _, err := Open(path, testLogger()); err == nil {
		t.Error("Open succeeded on a newer schema version")
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"a.json", FormatJSON, false},
		{"a.db", FormatSQLite, false},
		{"a.SQLITE", FormatSQLite, false},
		{"a.zarr", "", true},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("FormatOf(%q) = %q, %v", tt.path, got, err)
		}
	}
}
