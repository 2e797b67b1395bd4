package portainer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, false)
	require.NoError(t, err)
	return client, srv
}

func TestAuthenticate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth", r.URL.Path)
		var creds struct{ Username, Password string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Username != "admin" || creds.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": "session-token"})
	}))

	token, err := client.Authenticate(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "session-token", token)

	_, err = client.Authenticate(context.Background(), "admin", "wrong")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.Authenticate(context.Background(), "admin", "hunter2")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestListStacks_FileFallback(t *testing.T) {
	manifests := map[int64]string{
		1: `{"StackFileContent":"services:\n  web:\n    image: nginx\n"}`,
		2: `{"StackFileContent":"services:\n  db:\n    image: postgres\n"}`,
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/stacks":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Contains(t, r.URL.Query().Get("filters"), "EndpointId")
			// The list endpoint omits manifest content.
			w.Write([]byte(`[{"Id":1,"Name":"web","Status":1},{"Id":2,"Name":"db","Status":2},{"Id":3,"Name":"broken","Status":1}]`))
		case r.URL.Path == "/api/stacks/1/file" || r.URL.Path == "/api/stacks/2/file":
			var id int64
			fmt.Sscanf(r.URL.Path, "/api/stacks/%d/file", &id)
			w.Write([]byte(manifests[id]))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	client.token = "tok"

	stacks, err := client.ListStacks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stacks, 3)

	assert.Equal(t, "web", stacks[0].Name)
	assert.Equal(t, "active", stacks[0].Status)
	// The raw envelope is preserved; unwrapping happens at use time.
	assert.Equal(t, manifests[1], stacks[0].ComposeContent)
	assert.False(t, stacks[0].ManifestMissing)

	assert.Equal(t, "inactive", stacks[1].Status)

	// A failed detail fetch keeps the record and flags it.
	assert.True(t, stacks[2].ManifestMissing)
	assert.Empty(t, stacks[2].ComposeContent)
}

func TestListStacks_MalformedIsNotZeroStacks(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>proxy error</html>`))
	}))

	stacks, err := client.ListStacks(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Nil(t, stacks)
}

func TestListStacks_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = client.ListStacks(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreateStack(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/stacks/create/standalone/string", r.URL.Path)
		require.Equal(t, "7", r.URL.Query().Get("endpointId"))
		var req struct{ Name, StackFileContent string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Name == "taken" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"Id": 42, "Name": req.Name, "Status": 1})
	}))

	rec, err := client.CreateStack(context.Background(), "web", "services: {}\n", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "web", rec.Name)

	_, err = client.CreateStack(context.Background(), "taken", "services: {}\n", 7)
	assert.ErrorIs(t, err, ErrConflict)
}

// Handlers list live stacks while the gated backup/restore path holds the
// same client and re-authenticates, so token writes and reads overlap.
func TestConcurrentAuthenticateAndList(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			json.NewEncoder(w).Encode(map[string]string{"jwt": "session-token"})
		case "/api/stacks":
			w.Write([]byte(`[{"Id":1,"Name":"web","Status":1,"StackFileContent":"services: {}\n"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Authenticate(context.Background(), "admin", "hunter2")
			assert.NoError(t, err)
			stacks, err := client.ListStacks(context.Background(), 1)
			assert.NoError(t, err)
			assert.Len(t, stacks, 1)
		}()
	}
	wg.Wait()
}

func TestDeleteStack_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := client.DeleteStack(context.Background(), 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
