package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStoreMarkAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ids := []string{"B001", "B002", "B003"}
	for _, id := range ids {
		if store.IsDone(id) {
			t.Fatalf("%s done before marking", id)
		}
		if err := store.MarkDone(id); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
	}
	if store.Len() != len(ids) {
		t.Fatalf("len = %d, want %d", store.Len(), len(ids))
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh open must see everything the previous run recorded.
	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reloaded.Close()

	for _, id := range ids {
		if !reloaded.IsDone(id) {
			t.Fatalf("%s lost across reload", id)
		}
	}
}

func TestStoreMarkDoneIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		if err := store.MarkDone("B001"); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "B001" {
		t.Fatalf("file contents = %q, want single entry", got)
	}
}

func TestStoreConcurrentMarkDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("B%03d", i%10)
			if err := store.MarkDone(id); err != nil {
				t.Errorf("mark %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Fields(strings.TrimSpace(string(data)))
	if len(lines) != 10 {
		t.Fatalf("lines = %d, want 10 unique entries", len(lines))
	}
	seen := map[string]bool{}
	for _, line := range lines {
		if seen[line] {
			t.Fatalf("duplicate entry %q", line)
		}
		seen[line] = true
	}
}

func TestStoreIgnoresBlankIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.MarkDone("  "); err != nil {
		t.Fatalf("mark blank: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("blank identifier was recorded")
	}
}
