// pkg/keystore/vault_test.go

package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeVault speaks just enough of the KV v2 HTTP API for the client: reads
// and writes under <mount>/data/, metadata deletes and LISTs under
// <mount>/metadata/, 404 with an empty errors array for missing secrets,
// and sys/health honoring the client's sealedcode/uninitcode overrides.
type fakeVault struct {
	t       *testing.T
	mount   string
	token   string
	server  *httptest.Server
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	sealed  bool
	uninit  bool
}

func newFakeVault(t *testing.T, mount string) *fakeVault {
	f := &fakeVault{
		t:       t,
		mount:   mount,
		token:   "test-token",
		secrets: make(map[string]map[string]interface{}),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVault) handle(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, f.token, r.Header.Get("X-Vault-Token"), "missing or wrong vault token")

	f.mu.Lock()
	defer f.mu.Unlock()

	dataPrefix := "/v1/" + f.mount + "/data/"
	metaPrefix := "/v1/" + f.mount + "/metadata/"

	switch {
	case r.URL.Path == "/v1/sys/health":
		body := map[string]interface{}{"initialized": true, "sealed": false, "version": "1.16.0"}
		status := http.StatusOK
		switch {
		case f.uninit:
			status = healthCode(r, "uninitcode", http.StatusNotImplemented)
			body["initialized"] = false
			body["sealed"] = true
		case f.sealed:
			status = healthCode(r, "sealedcode", http.StatusServiceUnavailable)
			body["sealed"] = true
		}
		writeVaultJSON(w, status, body)

	case strings.HasPrefix(r.URL.Path, dataPrefix):
		rel := strings.TrimPrefix(r.URL.Path, dataPrefix)
		switch r.Method {
		case http.MethodGet:
			fields, ok := f.secrets[rel]
			if !ok {
				writeVaultJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			writeVaultJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{
					"data":     fields,
					"metadata": map[string]interface{}{"created_time": "2025-06-01T00:00:00Z", "version": 1},
				},
			})
		case http.MethodPost, http.MethodPut:
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.secrets[rel] = body.Data
			// KV v2 writes answer with the new version metadata.
			writeVaultJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{"created_time": "2025-06-01T00:00:00Z", "version": 1},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case strings.HasPrefix(r.URL.Path, metaPrefix):
		rel := strings.TrimPrefix(r.URL.Path, metaPrefix)
		switch {
		case r.Method == http.MethodDelete:
			// The real engine deletes idempotently.
			delete(f.secrets, rel)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == "LIST" || r.URL.Query().Get("list") == "true":
			var ids []string
			for p := range f.secrets {
				if strings.HasPrefix(p, rel+"/") {
					ids = append(ids, strings.TrimPrefix(p, rel+"/"))
				}
			}
			if len(ids) == 0 {
				writeVaultJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			sort.Strings(ids)
			writeVaultJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{"keys": ids},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		f.t.Errorf("unexpected vault path %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeVaultJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// healthCode returns the status the client asked the server to use for a
// degraded state, like the real health endpoint does.
func healthCode(r *http.Request, param string, fallback int) int {
	if v := r.URL.Query().Get(param); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func newVaultStore(t *testing.T) (*fakeVault, *VaultStore) {
	t.Helper()
	f := newFakeVault(t, "secret")
	s, err := NewVaultStore(VaultOptions{
		Address: f.server.URL,
		Token:   "test-token",
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return f, s
}

func TestVaultStoreRoundTrip(t *testing.T) {
	_, s := newVaultStore(t)
	ctx := context.Background()

	material := []byte("vault-held material with bytes")
	entry := Entry{
		ID:       "backup-primary",
		Kind:     KindSymmetric,
		Metadata: map[string]string{"purpose": "repository"},
	}
	require.NoError(t, s.Store(ctx, entry, securebuf.New(material)))

	got, gotEntry, err := s.Retrieve(ctx, "backup-primary")
	require.NoError(t, err)
	defer got.Wipe()

	assert.Equal(t, material, got.Bytes())
	assert.Equal(t, "backup-primary", gotEntry.ID)
	assert.Equal(t, KindSymmetric, gotEntry.Kind)
	assert.Equal(t, "repository", gotEntry.Metadata["purpose"])
	assert.WithinDuration(t, time.Now(), gotEntry.CreatedAt, time.Minute)
}

func TestVaultStoreNotFound(t *testing.T) {
	_, s := newVaultStore(t)
	ctx := context.Background()

	_, _, err := s.Retrieve(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "absent"), ErrNotFound)
}

func TestVaultStoreDelete(t *testing.T) {
	f, s := newVaultStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, Entry{ID: "doomed", Kind: KindSymmetric}, securebuf.New([]byte("short lived"))))
	require.NoError(t, s.Delete(ctx, "doomed"))

	_, _, err := s.Retrieve(ctx, "doomed")
	assert.ErrorIs(t, err, ErrNotFound)

	f.mu.Lock()
	_, still := f.secrets["mnemosyne/keys/doomed"]
	f.mu.Unlock()
	assert.False(t, still, "delete should remove the secret")
}

func TestVaultStoreUpsertReplaces(t *testing.T) {
	_, s := newVaultStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, Entry{ID: "rotating", Kind: KindSymmetric}, securebuf.New([]byte("generation-one"))))
	require.NoError(t, s.Store(ctx, Entry{ID: "rotating", Kind: KindPrivate}, securebuf.New([]byte("generation-two"))))

	got, entry, err := s.Retrieve(ctx, "rotating")
	require.NoError(t, err)
	defer got.Wipe()

	assert.Equal(t, []byte("generation-two"), got.Bytes())
	assert.Equal(t, KindPrivate, entry.Kind)
}

func TestVaultStoreList(t *testing.T) {
	_, s := newVaultStore(t)
	ctx := context.Background()

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Store(ctx, Entry{ID: id, Kind: KindSymmetric}, securebuf.New([]byte("material-"+id))))
	}

	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].ID)
	assert.Equal(t, "mid", entries[1].ID)
	assert.Equal(t, "zeta", entries[2].ID)
}

func TestVaultStoreMaterialBase64OnWire(t *testing.T) {
	f, s := newVaultStore(t)
	ctx := context.Background()

	plaintext := []byte("material that must be encoded")
	require.NoError(t, s.Store(ctx, Entry{ID: "encoded", Kind: KindSymmetric}, securebuf.New(plaintext)))

	f.mu.Lock()
	fields := f.secrets["mnemosyne/keys/encoded"]
	f.mu.Unlock()
	require.NotNil(t, fields)

	wire, ok := fields["material"].(string)
	require.True(t, ok, "material should be a string field")
	assert.NotEqual(t, string(plaintext), wire)

	decoded, err := base64.StdEncoding.DecodeString(wire)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestVaultStoreValidation(t *testing.T) {
	_, s := newVaultStore(t)
	ctx := context.Background()

	assert.Error(t, s.Store(ctx, Entry{ID: "", Kind: KindSymmetric}, securebuf.New([]byte("x"))))
	assert.Error(t, s.Store(ctx, Entry{ID: "../escape", Kind: KindSymmetric}, securebuf.New([]byte("x"))))
	assert.Error(t, s.Store(ctx, Entry{ID: "empty", Kind: KindSymmetric}, securebuf.New(nil)))
}

func TestVaultStoreVerifyHealthy(t *testing.T) {
	_, s := newVaultStore(t)
	assert.NoError(t, s.Verify(context.Background()))
}

func TestVaultStoreVerifySealed(t *testing.T) {
	f, s := newVaultStore(t)
	f.mu.Lock()
	f.sealed = true
	f.mu.Unlock()

	err := s.Verify(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}

func TestVaultStoreVerifyUninitialized(t *testing.T) {
	f, s := newVaultStore(t)
	f.mu.Lock()
	f.uninit = true
	f.mu.Unlock()

	err := s.Verify(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestVaultStoreVerifyUnreachable(t *testing.T) {
	f, s := newVaultStore(t)
	f.server.Close()

	assert.Error(t, s.Verify(context.Background()))
}

func TestVaultStoreCustomMountAndPrefix(t *testing.T) {
	f := newFakeVault(t, "kv")
	s, err := NewVaultStore(VaultOptions{
		Address:    f.server.URL,
		Token:      "test-token",
		Mount:      "kv",
		PathPrefix: "edge/keys",
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, Entry{ID: "alpha", Kind: KindSymmetric}, securebuf.New([]byte("custom path material"))))

	f.mu.Lock()
	_, ok := f.secrets["edge/keys/alpha"]
	f.mu.Unlock()
	assert.True(t, ok, "secret should land under the configured prefix")

	got, _, err := s.Retrieve(ctx, "alpha")
	require.NoError(t, err)
	defer got.Wipe()
	assert.Equal(t, []byte("custom path material"), got.Bytes())
}
