package param

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSortEARKeys(t *testing.T) {
	keys := []EARKey{{2, 0, 0, 0}, {1, 1, 0, 0}, {1, 0, 1, 0}, {1, 1, 0, 0}, {1, 0, 0, 1}}
	want := []EARKey{{1, 0, 0, 1}, {1, 0, 1, 0}, {1, 1, 0, 0}, {2, 0, 0, 0}}
	if diff := cmp.Diff(want, SortEARKeys(keys)); diff != "" {
		t.Errorf("SortEARKeys (-want +got):\n%s", diff)
	}
}

func TestDataIndex_Filter(t *testing.T) {
	d := DataIndex{"inputs.x": 1, "inputs.xy": 2, "inputs.x.a": 3, "outputs.y": 4}
	want := DataIndex{"inputs.x": 1, "inputs.x.a": 3}
	if diff := cmp.Diff(want, d.Filter("inputs.x")); diff != "" {
		t.Errorf("Filter (-want +got):\n%s", diff)
	}
	if got := len(d.Filter("")); got != 4 {
		t.Errorf("Filter(\"\") len = %d, want 4", got)
	}
}

func TestGetInSetIn(t *testing.T) {
	root := map[string]any{}
	SetIn(root, "inputs.x.a", 1.0)
	SetIn(root, "inputs.y", "b")
	v, err := GetIn(root, "inputs.x.a")
	if err != nil || v != 1.0 {
		t.Errorf("GetIn = %v, %v; want 1", v, err)
	}
	if _, err := GetIn(root, "inputs.y.z"); err == nil {
		t.Error("expected error walking into a string")
	}
}

func TestSource_EARKey(t *testing.T) {
	k := EARKey{TaskInsertID: 1, ElementIdx: 2, ActionIdx: 0, RunIdx: 0}
	got, ok := EAROutput(k).EARKey()
	if !ok || got != k {
		t.Errorf("EARKey = %v, %v; want %v", got, ok, k)
	}
	if _, ok := LocalInput(1).EARKey(); ok {
		t.Error("local input should have no EAR key")
	}
}
