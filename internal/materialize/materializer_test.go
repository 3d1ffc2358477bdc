package materialize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	puts    map[string][]byte
	lastKey string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{puts: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.puts[key] = data
	f.lastKey = key
	return "https://cdn.durable.example.com/" + key, nil
}

func TestMaterializeRehostsResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer ts.Close()

	store := newFakeStore()
	m := New(store, ts.Client(), zerolog.Nop())

	url := m.Materialize(context.Background(), ts.URL+"/result.jpg", "user-1", "job-1")
	if !strings.HasPrefix(url, "https://cdn.durable.example.com/") {
		t.Fatalf("expected durable url, got %s", url)
	}
	if store.lastKey != "users/user-1/jobs/job-1/result.jpg" {
		t.Fatalf("unexpected key: %s", store.lastKey)
	}
	if string(store.puts[store.lastKey]) != "jpeg-bytes" {
		t.Fatal("stored bytes mismatch")
	}
}

func TestMaterializeFailsSoftOnFetchError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	m := New(newFakeStore(), ts.Client(), zerolog.Nop())
	ephemeral := ts.URL + "/expired.png"
	if got := m.Materialize(context.Background(), ephemeral, "u", "j"); got != ephemeral {
		t.Fatalf("expected ephemeral url back, got %s", got)
	}
}

func TestMaterializeFailsSoftOnUploadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer ts.Close()

	store := newFakeStore()
	store.err = errors.New("bucket unavailable")
	m := New(store, ts.Client(), zerolog.Nop())

	ephemeral := ts.URL + "/out.png"
	if got := m.Materialize(context.Background(), ephemeral, "u", "j"); got != ephemeral {
		t.Fatalf("expected ephemeral url back, got %s", got)
	}
}

func TestMaterializeDeterministicKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("v2"))
	}))
	defer ts.Close()

	store := newFakeStore()
	m := New(store, ts.Client(), zerolog.Nop())

	first := m.Materialize(context.Background(), ts.URL+"/a.png", "u", "j")
	second := m.Materialize(context.Background(), ts.URL+"/b.png", "u", "j")
	if first != second {
		t.Fatalf("re-materialization changed the durable url: %s vs %s", first, second)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected a single upserted key, got %d", len(store.puts))
	}
}
