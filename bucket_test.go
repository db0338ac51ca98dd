package dpdb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestBucket_SplitPreservesAllEntries writes enough distinct keys to force
// at least one bucket-list split (MaxBuckets defaults to 16) and checks
// every key is still reachable and that enumeration still visits exactly
// as many keys as were written.
func TestBucket_SplitPreservesAllEntries(t *testing.T) {
	dir, err := os.MkdirTemp("", "dpdb_split_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	h, err := Open(Options{Path: filepath.Join(dir, "split.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	const n = 5000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("val-%04d", i))
		if _, err := h.Put(key, val); err != nil {
			t.Fatalf("Put(%q): %v", key, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := fmt.Sprintf("val-%04d", i)
		v, ok, err := h.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%q): ok=%v err=%v", key, ok, err)
		}
		if string(v.([]byte)) != want {
			t.Errorf("Get(%q) = %q, want %q", key, v, want)
		}
	}

	count := 0
	key, ok, err := h.FirstKey()
	if err != nil {
		t.Fatal(err)
	}
	for ok {
		count++
		key, ok, err = h.NextKey(key)
		if err != nil {
			t.Fatal(err)
		}
		if count > n*2 {
			t.Fatal("enumeration did not terminate")
		}
	}
	if count != n {
		t.Errorf("enumerated %d keys, want %d", count, n)
	}
}

func TestBucket_DeleteAfterSplit(t *testing.T) {
	dir, err := os.MkdirTemp("", "dpdb_split_delete_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	h, err := Open(Options{Path: filepath.Join(dir, "split_del.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	const n = 5000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if _, err := h.Put(key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("k%03d", i))
		if _, ok, err := h.Delete(key); err != nil || !ok {
			t.Fatalf("Delete(%q): ok=%v err=%v", key, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		_, ok, err := h.Get(key)
		if err != nil {
			t.Fatal(err)
		}
		wantOK := i%2 != 0
		if ok != wantOK {
			t.Errorf("Get(%q) ok=%v, want %v", key, ok, wantOK)
		}
	}
}
