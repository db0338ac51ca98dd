package dpdb

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dpdb_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "test.db")
}

func TestOpen_NewFileHasMapRoot(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	if h.Type() != KindMap {
		t.Errorf("new file root kind = %v, want KindMap", h.Type())
	}
}

func TestOpen_SignatureMismatch(t *testing.T) {
	path := tempDBPath(t)
	if err := os.WriteFile(path, []byte("NOTADPDBFILE"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(Options{Path: path})
	if err != ErrSignatureMismatch {
		t.Fatalf("Open err = %v, want ErrSignatureMismatch", err)
	}
}

func TestPutGet_ScalarRoundTrip(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	inserted, err := h.Put([]byte("name"), []byte("waddle"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !inserted {
		t.Error("expected first Put to report inserted=true")
	}

	v, ok, err := h.Get([]byte("name"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if !bytes.Equal(v.([]byte), []byte("waddle")) {
		t.Errorf("Get = %q, want %q", v, "waddle")
	}
}

func TestPut_ReplaceReportsNotInserted(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	inserted, err := h.Put([]byte("k"), []byte("v2"))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("expected replace to report inserted=false")
	}

	v, ok, err := h.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get after replace: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v.([]byte), []byte("v2")) {
		t.Errorf("Get after replace = %q, want %q", v, "v2")
	}
}

func TestPut_ShorterReplaceReusesSpace(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), bytes.Repeat([]byte("x"), 64)); err != nil {
		t.Fatal(err)
	}
	sizeBefore := h.root.fl.end

	if _, err := h.Put([]byte("k"), []byte("short")); err != nil {
		t.Fatal(err)
	}
	if h.root.fl.end != sizeBefore {
		t.Errorf("in-place reuse should not grow file: before=%d after=%d", sizeBefore, h.root.fl.end)
	}
}

func TestDelete_ThenReinsert(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	old, ok, err := h.Delete([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(old.([]byte), []byte("v1")) {
		t.Errorf("Delete returned %q, want %q", old, "v1")
	}

	if _, ok, err := h.Get([]byte("k")); err != nil || ok {
		t.Fatalf("expected key absent after delete, ok=%v err=%v", ok, err)
	}

	inserted, err := h.Put([]byte("k"), []byte("v2"))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("reinsert after delete should report inserted=true")
	}
}

func TestGet_AbsentKey(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, ok, err := h.Get([]byte("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected absent key to report ok=false")
	}
}

func TestPut_NullValue(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), nil); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v != nil {
		t.Errorf("Get null value = %v, want nil", v)
	}
}

func TestPut_NestedMap(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	nested := map[string]any{
		"city": []byte("Gotham"),
		"zip":  []byte("00000"),
	}
	if _, err := h.Put([]byte("address"), nested); err != nil {
		t.Fatal(err)
	}

	v, ok, err := h.Get([]byte("address"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	child, ok := v.(*Handle)
	if !ok {
		t.Fatalf("expected nested *Handle, got %T", v)
	}
	if child.Type() != KindMap {
		t.Errorf("nested composite kind = %v, want KindMap", child.Type())
	}
	cv, ok, err := child.Get([]byte("city"))
	if err != nil || !ok {
		t.Fatalf("child Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(cv.([]byte), []byte("Gotham")) {
		t.Errorf("child Get = %q, want %q", cv, "Gotham")
	}
}

func TestPut_RejectsUnsupportedType(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = h.Put([]byte("k"), 42)
	if err != ErrStoreRejectedUnsupportedType {
		t.Errorf("Put(int) err = %v, want ErrStoreRejectedUnsupportedType", err)
	}
}

func TestEnumerate_FirstNextKeyCompleteness(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	want := map[string]bool{"a": false, "b": false, "c": false, "d": false}
	for k := range want {
		if _, err := h.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	key, ok, err := h.FirstKey()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for ok {
		if _, known := want[string(key)]; !known {
			t.Errorf("unexpected key %q", key)
		} else {
			want[string(key)] = true
		}
		count++
		key, ok, err = h.NextKey(key)
		if err != nil {
			t.Fatal(err)
		}
		if count > 100 {
			t.Fatal("enumeration did not terminate")
		}
	}
	if count != 4 {
		t.Errorf("enumerated %d keys, want 4", count)
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("key %q never enumerated", k)
		}
	}
}

func TestFilters_StoreAndFetch(t *testing.T) {
	path := tempDBPath(t)
	upper := func(b []byte) []byte { return bytes.ToUpper(b) }
	h, err := Open(Options{
		Path:       path,
		StoreValue: upper,
		FetchValue: func(b []byte) []byte { return bytes.ToLower(b) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), []byte("MixedCase")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v.([]byte), []byte("mixedcase")) {
		t.Errorf("Get with fetch filter = %q, want %q", v, "mixedcase")
	}
}

// TestFilters_StoreKeyAndFetchKeyIndependent guards against Get deriving
// its lookup digest from FetchKey instead of StoreKey: with distinct
// StoreKey/FetchKey callbacks (the documented normal case, since they are
// two independent optional hooks), Put(k,v) followed by Get(k) must still
// round-trip, because the lookup digest has to match the digest Put stored
// under (digest(StoreKey(k))), not digest(FetchKey(k)).
func TestFilters_StoreKeyAndFetchKeyIndependent(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{
		Path:     path,
		StoreKey: func(b []byte) []byte { return bytes.ToUpper(b) },
		FetchKey: func(b []byte) []byte { return append([]byte("decoded:"), b...) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := h.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Get reported absent for a key that was just Put — StoreKey/FetchKey digest mismatch")
	}
	if !bytes.Equal(v.([]byte), []byte("v")) {
		t.Errorf("Get = %q, want %q", v, "v")
	}

	if ok, err := h.Exists([]byte("k")); err != nil || !ok {
		t.Errorf("Exists: ok=%v err=%v", ok, err)
	}
}

// TestPut_SelfLoopCreatesAlias exercises §9's cyclic-reference construction:
// re-inserting a handle under one of its own descendants must bind the
// bucket slot directly to the composite's own tag offset rather than
// failing, and a single Get through the alias must resolve back to an
// equal handle in one hop.
func TestPut_SelfLoopCreatesAlias(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Put([]byte("child"), map[string]any{"k": []byte("v")}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Get([]byte("child"))
	if err != nil || !ok {
		t.Fatalf("Get child: ok=%v err=%v", ok, err)
	}
	child := v.(*Handle)

	if _, err := child.Put([]byte("back"), h); err != nil {
		t.Fatalf("Put self-loop: %v", err)
	}

	back, ok, err := child.Get([]byte("back"))
	if err != nil || !ok {
		t.Fatalf("Get back: ok=%v err=%v", ok, err)
	}
	loop, ok := back.(*Handle)
	if !ok {
		t.Fatalf("expected *Handle, got %T", back)
	}
	if loop.offset != h.offset {
		t.Errorf("self-loop offset = %d, want root offset %d", loop.offset, h.offset)
	}

	again, ok, err := loop.Get([]byte("child"))
	if err != nil || !ok {
		t.Fatalf("Get through self-loop: ok=%v err=%v", ok, err)
	}
	grandchild := again.(*Handle)
	gv, ok, err := grandchild.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get k via loop: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gv.([]byte), []byte("v")) {
		t.Errorf("Get k via loop = %q, want %q", gv, "v")
	}
}

// TestPut_TiedValueFromAnotherRootRejected guards the one case a same-file
// self-loop cannot cover: a *Handle from a different open Root has no
// offset meaningful in this file's trie.
func TestPut_TiedValueFromAnotherRootRejected(t *testing.T) {
	path1 := tempDBPath(t)
	h1, err := Open(Options{Path: path1})
	if err != nil {
		t.Fatal(err)
	}
	defer h1.Close()

	path2 := tempDBPath(t)
	h2, err := Open(Options{Path: path2})
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()

	if _, err := h1.Put([]byte("foreign"), h2); err != ErrStoreRejectedTiedValue {
		t.Errorf("Put(foreign handle) err = %v, want ErrStoreRejectedTiedValue", err)
	}
}

func TestExport_RoundTripsImport(t *testing.T) {
	path := tempDBPath(t)
	h, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	tree := map[string]any{
		"name": []byte("waddle"),
		"tags": []any{[]byte("a"), []byte("b")},
		"meta": map[string]any{"k": []byte("v")},
	}
	if err := h.Import(tree); err != nil {
		t.Fatal(err)
	}

	out, err := h.Export()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Export root = %T, want map[string]any", out)
	}
	if !bytes.Equal(m["name"].([]byte), []byte("waddle")) {
		t.Errorf("exported name = %v", m["name"])
	}
	tags, ok := m["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("exported tags = %v", m["tags"])
	}
}
