package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sjf/psyche-search/pkg/daemon"
	"github.com/sjf/psyche-search/pkg/grouping"
	"github.com/sjf/psyche-search/pkg/models"
	"github.com/sjf/psyche-search/pkg/poller"
	"github.com/sjf/psyche-search/pkg/resultcache"
)

// blockClock never fires, so a scheduler that reaches a wait stays
// there for the rest of the test.
type blockClock struct{}

func (blockClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestEngine(t *testing.T, handler http.Handler) (*Engine, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	e := NewEngine(context.Background(), Options{
		Client: daemon.New(daemon.Config{BaseURL: ts.URL}),
		Clock:  blockClock{},
	})
	t.Cleanup(e.Close)
	return e, ts
}

const aliceSnapshot = `{"status":"ready","tree":{"name":"","type":"root","children":[
	{"name":"alice","type":"dir","children":[
		{"name":"song.mp3","type":"file","size":1000,"path":"music\\song.mp3","user":"alice","free_slots":1}
	]}
]}}`

func TestOpenSearch_ReadyPopulatesRowsAndCache(t *testing.T) {
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aliceSnapshot)
	}))

	v := e.OpenSearch("song")
	waitFor(t, "view rows", func() bool { return len(v.Rows()) == 1 })

	rows := v.Rows()
	if rows[0].OwnerID != "alice" || rows[0].FileName != "song.mp3" {
		t.Errorf("rows = %+v", rows)
	}

	st := v.State()
	if st.State != "ready" || st.FromCache {
		t.Errorf("state = %+v", st)
	}
	if !strings.Contains(st.Note, "1 items") {
		t.Errorf("note = %q", st.Note)
	}

	cached, ok := e.Cache().Get(SearchKey("song"))
	if !ok || len(cached) != 1 || cached[0].Key() != rows[0].Key() {
		t.Errorf("cache = %v %v", cached, ok)
	}
}

func TestOpenSearch_SeedsFromCacheWhileLoading(t *testing.T) {
	release := make(chan struct{})
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, `{"status":"loading","tree":null}`)
	}))

	key := SearchKey("seed")
	e.Cache().Put(key, []models.Row{{
		OwnerID: "bob", ContainerPath: "a", FileName: "old.flac",
		SourcePath: "a\\old.flac", Size: 5, FreeSlots: models.FreeSlotsUnknown,
	}})

	v := e.OpenSearch("seed")

	rows := v.Rows()
	if len(rows) != 1 || rows[0].FileName != "old.flac" {
		t.Fatalf("seeded rows = %+v", rows)
	}
	st := v.State()
	if !st.FromCache {
		t.Error("view not marked as cached")
	}
	if !strings.HasPrefix(st.Note, "cached ") {
		t.Errorf("note = %q", st.Note)
	}
	close(release)

	// One loading poll lands as a retry; rows must survive it.
	waitFor(t, "retrying state", func() bool { return v.State().State == "retrying" })
	if got := v.Rows(); len(got) != 1 {
		t.Errorf("rows evicted on retry: %+v", got)
	}
	if st := v.State(); st.FromCache != true {
		t.Errorf("fromCache flipped without fresh data: %+v", st)
	}
}

func TestTransportErrorKeepsLastRows(t *testing.T) {
	var fail atomic.Bool
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, aliceSnapshot)
	}))

	v := e.OpenSearch("song")
	waitFor(t, "ready", func() bool { return v.State().State == "ready" })

	fail.Store(true)
	v.Refresh()
	waitFor(t, "retrying", func() bool { return v.State().State == "retrying" })

	if got := v.Rows(); len(got) != 1 {
		t.Errorf("rows lost on transport error: %+v", got)
	}
	if note := v.State().Note; !strings.Contains(note, "unreachable") {
		t.Errorf("note = %q", note)
	}
	if cached, ok := e.Cache().Get(SearchKey("song")); !ok || len(cached) != 1 {
		t.Errorf("cache evicted by failure: %v %v", cached, ok)
	}
}

// Closing a key while its request is in flight must discard the late
// response entirely: no row update, no cache write, and no bleed into a
// view opened for another key afterwards.
func TestKeySwitch_DiscardsLateResponse(t *testing.T) {
	fooEntered := make(chan struct{})
	fooRelease := make(chan struct{})
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/foo/tree.json":
			close(fooEntered)
			<-fooRelease
			io.WriteString(w, aliceSnapshot)
		case "/search/bar/tree.json":
			io.WriteString(w, `{"status":"ready","tree":{"name":"","type":"root","children":[
				{"name":"bar-owner","type":"dir","children":[
					{"name":"bar.mp3","type":"file","size":7,"path":"bar.mp3","free_slots":2}
				]}
			]}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	foo := e.OpenSearch("foo")
	<-fooEntered
	foo.Close()

	bar := e.OpenSearch("bar")
	waitFor(t, "bar rows", func() bool { return len(bar.Rows()) == 1 })

	close(fooRelease)
	time.Sleep(50 * time.Millisecond)

	if _, ok := e.Cache().Get(SearchKey("foo")); ok {
		t.Error("late response for closed key reached the cache")
	}
	if rows := foo.Rows(); len(rows) != 0 {
		t.Errorf("late response updated closed view: %+v", rows)
	}
	if rows := bar.Rows(); len(rows) != 1 || rows[0].OwnerID != "bar-owner" {
		t.Errorf("bar rows disturbed: %+v", rows)
	}
}

func TestOpenDownloads_ProjectsQueueRows(t *testing.T) {
	polls := make(chan struct{}, 16)
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/downloads.json":
			polls <- struct{}{}
			io.WriteString(w, `[{"user":"bob","path":"a\\b.mp3","virtual_path":"@x\\a\\b.mp3",
				"status":"Transferring","size":10,"offset":4,"folder":"/dl"}]`)
		case "/downloads/pause":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))

	v := e.OpenDownloads()
	waitFor(t, "queue rows", func() bool { return len(v.Rows()) == 1 })
	<-polls

	rows := v.Rows()
	if rows[0].OwnerID != "bob" || rows[0].FileName != "b.mp3" || rows[0].Status != "Transferring" {
		t.Errorf("rows = %+v", rows)
	}
	if v.State().State != "ready" {
		t.Errorf("state = %q", v.State().State)
	}

	// A successful queue command shortcuts the interval wait.
	if err := e.Pause(context.Background(), rows[0]); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	select {
	case <-polls:
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh poll after command")
	}
}

func TestDelete_RemovesRowFromViewAndCache(t *testing.T) {
	var deleted atomic.Bool
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/downloads.json":
			items := `[
				{"user":"bob","path":"a\\b.mp3","virtual_path":"@x\\a\\b.mp3","status":"Finished","size":10,"folder":"/dl","local_path":"/dl/b.mp3"},
				{"user":"bob","path":"a\\c.mp3","virtual_path":"@x\\a\\c.mp3","status":"Finished","size":20,"folder":"/dl","local_path":"/dl/c.mp3"}
			]`
			if deleted.Load() {
				items = `[{"user":"bob","path":"a\\c.mp3","virtual_path":"@x\\a\\c.mp3","status":"Finished","size":20,"folder":"/dl","local_path":"/dl/c.mp3"}]`
			}
			io.WriteString(w, items)
		case "/files/delete":
			deleted.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))

	v := e.OpenDownloads()
	waitFor(t, "queue rows", func() bool { return len(v.Rows()) == 2 })

	target := v.Rows()[0]
	if !v.Select(target.Key()) {
		t.Fatal("Select failed")
	}
	if err := e.Delete(context.Background(), v, target); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rows := v.Rows()
	if len(rows) != 1 || rows[0].Key() == target.Key() {
		t.Errorf("rows after delete = %+v", rows)
	}
	if v.Selected() != nil {
		t.Error("selection survived deletion of its row")
	}
	cached, _ := e.Cache().Get(DownloadsKey)
	for _, r := range cached {
		if r.Key() == target.Key() {
			t.Error("deleted row still cached")
		}
	}
}

func TestSetSortAndSelection(t *testing.T) {
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ready","tree":{"name":"","type":"root","children":[
			{"name":"alice","type":"dir","children":[
				{"name":"big.mp3","type":"file","size":500,"path":"big.mp3"},
				{"name":"small.mp3","type":"file","size":5,"path":"small.mp3"}
			]}
		]}}`)
	}))

	v := e.OpenSearch("x")
	waitFor(t, "rows", func() bool { return len(v.Rows()) == 2 })

	v.SetSort(grouping.SortBySize, grouping.Descending)
	st := v.State()
	if len(st.Groups) != 1 || st.Groups[0].Rows[0].FileName != "big.mp3" {
		t.Errorf("groups = %+v", st.Groups)
	}

	key := models.RowKey{OwnerID: "alice", SourcePath: "small.mp3"}
	if !v.Select(key) {
		t.Fatal("Select failed")
	}
	sel := v.Selected()
	if sel == nil || sel.FileName != "small.mp3" {
		t.Errorf("selection = %+v", sel)
	}
	v.ClearSelection()
	if v.Selected() != nil {
		t.Error("selection not cleared")
	}
}

func TestReopenSameKeyReusesView(t *testing.T) {
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aliceSnapshot)
	}))

	a := e.OpenSearch("song")
	waitFor(t, "rows", func() bool { return len(a.Rows()) == 1 })
	b := e.OpenSearch("song")
	if a != b {
		t.Error("second open created a new view for the same key")
	}
	if got := len(e.Views()); got != 1 {
		t.Errorf("open views = %d", got)
	}
}

func TestRemoveSearch_ClosesViewAndInvalidatesCache(t *testing.T) {
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search/remove" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		io.WriteString(w, aliceSnapshot)
	}))

	v := e.OpenSearch("song")
	waitFor(t, "rows", func() bool { return len(v.Rows()) == 1 })

	if err := e.RemoveSearch(context.Background(), "song"); err != nil {
		t.Fatalf("RemoveSearch: %v", err)
	}
	if _, ok := e.View(SearchKey("song")); ok {
		t.Error("view still registered")
	}
	if _, ok := e.Cache().Get(SearchKey("song")); ok {
		t.Error("cache entry survived removal")
	}
}

func TestCachePersistsAcrossEngines(t *testing.T) {
	store, err := resultcache.NewFileStore(t.TempDir() + "/cache.json")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aliceSnapshot)
	}))
	defer ts.Close()

	first := NewEngine(context.Background(), Options{
		Client: daemon.New(daemon.Config{BaseURL: ts.URL}),
		Clock:  blockClock{},
		Store:  store,
	})
	v := first.OpenSearch("song")
	waitFor(t, "rows", func() bool { return len(v.Rows()) == 1 })
	first.Close()

	second := NewEngine(context.Background(), Options{
		Client: daemon.New(daemon.Config{BaseURL: ts.URL}),
		Clock:  blockClock{},
		Store:  store,
	})
	defer second.Close()
	second.RestoreCache()

	rows, ok := second.Cache().Get(SearchKey("song"))
	if !ok || len(rows) != 1 || rows[0].FileName != "song.mp3" {
		t.Errorf("restored cache = %v %v", rows, ok)
	}
}

var _ poller.Clock = blockClock{}
