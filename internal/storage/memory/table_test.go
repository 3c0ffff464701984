package memory

import "testing"

type row struct {
	Name string
	Tags []string
}

func cloneRow(r row) row {
	r.Tags = append([]string(nil), r.Tags...)
	return r
}

func TestTableCopiesRows(t *testing.T) {
	tbl := NewTable[uint64, row](cloneRow)
	tags := []string{"a"}
	tbl.Put(2, row{Name: "second", Tags: tags})
	tbl.Put(1, row{Name: "first"})
	tags[0] = "mutated"

	got, ok := tbl.Get(2)
	if !ok || got.Tags[0] != "a" {
		t.Fatalf("row shares caller slice: %+v", got)
	}
	got.Tags[0] = "changed"
	again, _ := tbl.Get(2)
	if again.Tags[0] != "a" {
		t.Fatalf("row shares returned slice: %+v", again)
	}

	rows := tbl.Select(nil)
	if len(rows) != 2 || rows[0].Name != "first" {
		t.Fatalf("select not ordered by key: %+v", rows)
	}
}

func TestTableCloneIsIndependent(t *testing.T) {
	tbl := NewTable[string, int](nil)
	tbl.Put("x", 1)
	snapshot := tbl.Clone()
	snapshot.Put("x", 2)
	snapshot.Put("y", 3)

	if v, _ := tbl.Get("x"); v != 1 {
		t.Fatalf("original changed: %d", v)
	}
	if tbl.Len() != 1 || snapshot.Len() != 2 {
		t.Fatalf("unexpected lengths %d %d", tbl.Len(), snapshot.Len())
	}
}

func TestSequence(t *testing.T) {
	seq := Sequence{}
	if seq.Next("job") != 1 || seq.Next("job") != 2 || seq.Next("dispute") != 1 {
		t.Fatal("unexpected sequence values")
	}
	clone := seq.Clone()
	clone.Next("job")
	if seq["job"] != 2 {
		t.Fatal("clone shares counters")
	}
}
