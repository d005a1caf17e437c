package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRecord_SetKeepsPosition(t *testing.T) {
	r := NewRecord()
	r.Set("b", 1.0)
	r.Set("a", 2.0)
	r.Set("b", 3.0)

	if got := r.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Keys() = %v", got)
	}
	if v, _ := r.Get("b"); v != 3.0 {
		t.Errorf("Get(b) = %v, want 3", v)
	}
}

func TestRecord_Delete(t *testing.T) {
	r := NewRecord()
	r.Set("a", 1.0)
	r.Set("b", 2.0)
	r.Set("c", 3.0)

	r.Delete("b")
	r.Delete("missing")

	if got := r.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("Keys() = %v", got)
	}
	if r.Has("b") {
		t.Error("expected b to be gone")
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := NewRecord()
	r.Set("a", 1.0)

	c := r.Clone()
	c.Set("a", 5.0)
	c.Set("z", true)

	if v, _ := r.Get("a"); v != 1.0 {
		t.Errorf("original mutated: a = %v", v)
	}
	if r.Len() != 1 {
		t.Errorf("original Len() = %d, want 1", r.Len())
	}
}

func TestRecord_Equal(t *testing.T) {
	a := NewRecord()
	a.Set("x", 1.0)
	a.Set("y", "s")

	b := NewRecord()
	b.Set("x", 1.0)
	b.Set("y", "s")

	reordered := NewRecord()
	reordered.Set("y", "s")
	reordered.Set("x", 1.0)

	if !a.Equal(b) {
		t.Error("expected equal records")
	}
	if a.Equal(reordered) {
		t.Error("expected field order to matter")
	}
	if !NewRecord().Equal(nil) {
		t.Error("expected empty record to equal nil")
	}
}

func TestParseRecord_KeepsOrder(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"z": 1, "a": "x", "m": null, "n": {"k": [1, 2]}}`))
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}

	if got := rec.Keys(); !reflect.DeepEqual(got, []string{"z", "a", "m", "n"}) {
		t.Errorf("Keys() = %v", got)
	}
	if v, _ := rec.Get("z"); v != 1.0 {
		t.Errorf("z = %v (%T)", v, v)
	}
	if v, ok := rec.Get("m"); !ok || v != nil {
		t.Errorf("m = %v, %v", v, ok)
	}
	want := map[string]any{"k": []any{1.0, 2.0}}
	if v, _ := rec.Get("n"); !reflect.DeepEqual(v, want) {
		t.Errorf("n = %#v", v)
	}
}

func TestParseRecord_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not json", "a=1&b=2"},
		{"array", `[{"a": 1}]`},
		{"string", `"hello"`},
		{"number", `42`},
		{"null", `null`},
		{"truncated", `{"a": 1`},
		{"duplicate key", `{"a": 1, "a": 2}`},
		{"trailing data", `{"a": 1} {"b": 2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestParseRecord_EmptyObject(t *testing.T) {
	rec, err := ParseRecord([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	if rec.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rec.Len())
	}
}

func TestRecord_MarshalJSON(t *testing.T) {
	r := NewRecord()
	r.Set("b", 2.0)
	r.Set("a", []any{"x"})
	r.Set("c", nil)

	got, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(got) != `{"b":2,"a":["x"],"c":null}` {
		t.Errorf("Marshal() = %s", got)
	}

	empty, err := json.Marshal(NewRecord())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(empty) != `{}` {
		t.Errorf("Marshal(empty) = %s", empty)
	}
}

func TestRecordFromMap(t *testing.T) {
	r := RecordFromMap(map[string]any{"a": 1.0, "b": 2.0}, "b", "a", "missing")
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("Keys() = %v", got)
	}
}
