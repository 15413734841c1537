package resultcache

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sjf/psyche-search/pkg/models"
)

func sampleRows() []models.Row {
	return []models.Row{
		{OwnerID: "alice", ContainerPath: "music", FileName: "song.mp3", Size: 1000, FreeSlots: 2, SourcePath: "music\\song.mp3"},
		{OwnerID: "bob", ContainerPath: "mixes", FileName: "set.flac", Size: 5000, FreeSlots: models.FreeSlotsUnknown, SourcePath: "mixes\\set.flac"},
	}
}

func TestCache_PutAndGet(t *testing.T) {
	c := New()
	c.Put("term1", sampleRows())

	rows, ok := c.Get("term1")
	if !ok {
		t.Fatal("Get(term1) missing")
	}
	if !reflect.DeepEqual(rows, sampleRows()) {
		t.Errorf("rows = %+v", rows)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = ok")
	}
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := New()
	c.Put("k", sampleRows())

	rows, _ := c.Get("k")
	rows[0].FileName = "mutated"

	fresh, _ := c.Get("k")
	if fresh[0].FileName != "song.mp3" {
		t.Error("mutation through Get leaked into cache")
	}
}

func TestCache_PutReplaces(t *testing.T) {
	c := New()
	c.Put("k", sampleRows())
	c.Put("k", sampleRows()[:1])

	rows, _ := c.Get("k")
	if len(rows) != 1 {
		t.Errorf("got %d rows after replace, want 1", len(rows))
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCache_SerializeRestoreRoundTrip(t *testing.T) {
	c := New()
	c.Put("term1", sampleRows())
	c.Put("downloads", sampleRows()[:1])

	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	fresh := New()
	if err := fresh.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rows, ok := fresh.Get("term1")
	if !ok {
		t.Fatal("restored cache missing term1")
	}
	if !reflect.DeepEqual(rows, sampleRows()) {
		t.Errorf("restored rows = %+v", rows)
	}
	if got, want := fresh.Keys(), []string{"downloads", "term1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}

func TestCache_RestoreDiscardsMalformedEntries(t *testing.T) {
	doc := `[
		{"query_key": "good", "rows": [{"owner_id":"a","source_path":"p","file_name":"f","size":1,"free_slots":-1,"container_path":"c"}]},
		{"query_key": "rows-not-array", "rows": "oops"},
		{"query_key": "", "rows": []},
		{"query_key": "null-rows", "rows": null},
		42
	]`

	c := New()
	if err := c.Restore([]byte(doc)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("good"); !ok {
		t.Error("good entry was dropped")
	}
}

func TestCache_RestoreRejectsNonArrayDocument(t *testing.T) {
	c := New()
	if err := c.Restore([]byte(`{"not":"an array"}`)); err == nil {
		t.Error("expected error for non-array document")
	}
}

func TestFileStore_PersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	c := New()
	c.Put("term1", sampleRows())
	if err := c.Persist(store); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	fresh := New()
	if err := fresh.LoadFrom(store); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	rows, ok := fresh.Get("term1")
	if !ok || len(rows) != 2 {
		t.Errorf("loaded rows = %v, ok = %v", rows, ok)
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	data, err := store.Load()
	if err != nil {
		t.Errorf("Load missing file: %v", err)
	}
	if data != nil {
		t.Errorf("Load missing file returned data: %q", data)
	}

	c := New()
	if err := c.LoadFrom(store); err != nil {
		t.Errorf("LoadFrom missing file: %v", err)
	}
}
