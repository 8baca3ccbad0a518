package opensearch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/opensearch"
)

// fakeCluster answers the info, index-exists and create-index endpoints.
type fakeCluster struct {
	mu       sync.Mutex
	indices  map[string]string
	requests []string
	down     bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Path[1:]
	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	case r.Method == http.MethodHead:
		if _, ok := f.indices[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut:
		if _, ok := f.indices[name]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception"}}`))
			return
		}
		f.indices[name] = string(body)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newCluster(t *testing.T) (*fakeCluster, string) {
	t.Helper()
	f := &fakeCluster{indices: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func TestNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled without addresses", func(t *testing.T) {
		t.Parallel()
		_, err := opensearch.New(ctx, opensearch.Config{})
		assert.ErrorIs(t, err, opensearch.ErrNoAddresses)
	})

	t.Run("creates the event index once", func(t *testing.T) {
		t.Parallel()
		f, addr := newCluster(t)
		cfg := opensearch.Config{Addresses: []string{addr}, Index: "taskq-events", DisableRetry: true}

		client, err := opensearch.New(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, client)

		f.mu.Lock()
		mapping, ok := f.indices["taskq-events"]
		f.mu.Unlock()
		require.True(t, ok)
		assert.Contains(t, mapping, `"queue_name"`)

		_, err = opensearch.New(ctx, cfg)
		require.NoError(t, err)

		f.mu.Lock()
		defer f.mu.Unlock()
		puts := 0
		for _, r := range f.requests {
			if r == "PUT /taskq-events" {
				puts++
			}
		}
		assert.Equal(t, 1, puts)
	})

	t.Run("unreachable cluster", func(t *testing.T) {
		t.Parallel()
		f, addr := newCluster(t)
		f.down = true

		_, err := opensearch.New(ctx, opensearch.Config{Addresses: []string{addr}, DisableRetry: true})
		assert.ErrorIs(t, err, opensearch.ErrHealthcheckFailed)
	})
}

func TestEnsureIndex_ExistingIndex(t *testing.T) {
	t.Parallel()
	f, addr := newCluster(t)

	client, err := opensearch.New(context.Background(), opensearch.Config{Addresses: []string{addr}, DisableRetry: true})
	require.NoError(t, err)

	f.mu.Lock()
	f.indices["events"] = "{}"
	f.mu.Unlock()
	require.NoError(t, opensearch.EnsureIndex(context.Background(), client, "events"))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.NotContains(t, f.requests, "PUT /events")
	assert.Equal(t, "{}", f.indices["events"])
}
