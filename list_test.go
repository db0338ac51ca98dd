package dpdb

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempListDB(t *testing.T) *Handle {
	t.Helper()
	dir, err := os.MkdirTemp("", "dpdb_list_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	h, err := Open(Options{Path: filepath.Join(dir, "list.db"), Type: KindList})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestList_PushLengthGetAt(t *testing.T) {
	h := tempListDB(t)

	if h.Type() != KindList {
		t.Fatalf("root kind = %v, want KindList", h.Type())
	}

	n, err := h.Push([]byte("a"), []byte("b"), []byte("c"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Push returned length %d, want 3", n)
	}

	length, err := h.Length()
	if err != nil {
		t.Fatal(err)
	}
	if length != 3 {
		t.Errorf("Length() = %d, want 3", length)
	}

	v, err := h.GetAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v.([]byte), []byte("b")) {
		t.Errorf("GetAt(1) = %q, want %q", v, "b")
	}

	// Negative index resolves from the end.
	v, err = h.GetAt(-1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v.([]byte), []byte("c")) {
		t.Errorf("GetAt(-1) = %q, want %q", v, "c")
	}
}

func TestList_GetAt_OutOfRangeNegativeIsAbsent(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("a")); err != nil {
		t.Fatal(err)
	}
	v, err := h.GetAt(-5)
	if err != nil {
		t.Fatalf("out-of-range negative read should return (nil,nil), got err=%v", err)
	}
	if v != nil {
		t.Errorf("GetAt(-5) = %v, want nil", v)
	}
}

func TestList_SetAt_OutOfRangeNegativeRejected(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("a")); err != nil {
		t.Fatal(err)
	}
	err := h.SetAt(-5, []byte("x"))
	if err != ErrNonCreatableSubscript {
		t.Errorf("SetAt(-5, ...) err = %v, want ErrNonCreatableSubscript", err)
	}
}

func TestList_Pop(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("a"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Pop()
	if err != nil || !ok {
		t.Fatalf("Pop: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v.([]byte), []byte("b")) {
		t.Errorf("Pop = %q, want %q", v, "b")
	}
	length, err := h.Length()
	if err != nil {
		t.Fatal(err)
	}
	if length != 1 {
		t.Errorf("Length after Pop = %d, want 1", length)
	}
}

func TestList_Pop_Empty(t *testing.T) {
	h := tempListDB(t)
	_, ok, err := h.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Pop on empty list should report ok=false")
	}
}

func TestList_Shift(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("a"), []byte("b"), []byte("c")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Shift()
	if err != nil || !ok {
		t.Fatalf("Shift: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v.([]byte), []byte("a")) {
		t.Errorf("Shift = %q, want %q", v, "a")
	}
	first, err := h.GetAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.([]byte), []byte("b")) {
		t.Errorf("GetAt(0) after Shift = %q, want %q", first, "b")
	}
}

func TestList_Unshift(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("b"), []byte("c")); err != nil {
		t.Fatal(err)
	}
	n, err := h.Unshift([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Unshift returned length %d, want 3", n)
	}
	first, err := h.GetAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.([]byte), []byte("a")) {
		t.Errorf("GetAt(0) after Unshift = %q, want %q", first, "a")
	}
}

func TestList_Splice(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Push([]byte("a"), []byte("b"), []byte("c"), []byte("d")); err != nil {
		t.Fatal(err)
	}
	removed, err := h.Splice(1, 2, []byte("x"), []byte("y"), []byte("z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("Splice removed %d elements, want 2", len(removed))
	}
	if !bytes.Equal(removed[0].([]byte), []byte("b")) || !bytes.Equal(removed[1].([]byte), []byte("c")) {
		t.Errorf("Splice removed = %v, want [b c]", removed)
	}

	length, err := h.Length()
	if err != nil {
		t.Fatal(err)
	}
	if length != 5 {
		t.Errorf("Length after Splice = %d, want 5", length)
	}

	want := []string{"a", "x", "y", "z", "d"}
	for i, w := range want {
		v, err := h.GetAt(int64(i))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(v.([]byte), []byte(w)) {
			t.Errorf("GetAt(%d) = %q, want %q", i, v, w)
		}
	}
}

func TestMap_FirstKeyOnListRootRejected(t *testing.T) {
	h := tempListDB(t)
	if _, err := h.Length(); err != nil {
		t.Fatal(err)
	}
	_, _, err := h.FirstKey()
	if err != ErrWrongKind {
		t.Errorf("FirstKey on list root err = %v, want ErrWrongKind", err)
	}
}
