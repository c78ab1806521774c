package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/config"
	"github.com/leapstack-labs/gridstream/internal/engine"
	"github.com/leapstack-labs/gridstream/internal/state"
	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/internal/testutil"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// nullChannel satisfies core.StreamChannel for handler tests that never
// stream.
type nullChannel struct{ events chan core.Event }

func (n *nullChannel) Connect(context.Context, core.ProviderConfig) error { return nil }
func (n *nullChannel) Disconnect(context.Context) error                   { return nil }
func (n *nullChannel) Events() <-chan core.Event                          { return n.events }
func (n *nullChannel) Snapshot(context.Context, string) ([]core.RowRecord, error) {
	return nil, nil
}
func (n *nullChannel) Status(context.Context, string) (core.ChannelStatus, error) {
	return core.ChannelStatus{}, nil
}

func setupHandlers(t *testing.T) (*chi.Mux, *engine.Engine) {
	t.Helper()

	store := state.NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	providersPath := filepath.Join(dir, "providers.yaml")
	providersYAML := "providers:\n  - id: demo-feed\n    name: Demo Feed\n    url: ws://localhost:9000\n    source_id: demo\n"
	require.NoError(t, os.WriteFile(providersPath, []byte(providersYAML), 0o644))

	cfg := &config.Config{
		StateDriver:    "sqlite",
		InstanceID:     "inst",
		KeyColumn:      "id",
		NotifyInterval: 10 * time.Millisecond,
		ConnectTimeout: time.Second,
		ProvidersPath:  providersPath,
		ExportDir:      dir,
	}

	logger := testutil.NewTestLogger(t)
	eng := engine.New(cfg, store, &nullChannel{events: make(chan core.Event)}, logger)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	surf := surface.NewMemory("id", []core.Column{{ID: "sym"}, {ID: "bid"}})
	surf.SetReady(true)
	eng.AttachSurface(surf)

	mux := chi.NewRouter()
	setupRoutes(mux, eng, sessions.NewCookieStore([]byte("test-secret")), logger)
	return mux, eng
}

func doJSON(t *testing.T, mux *chi.Mux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSaveAndListProfiles(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/profiles", saveProfileRequest{Name: "Desk A"})
	require.Equal(t, http.StatusOK, rec.Code)

	var saved map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved["id"])

	rec = doJSON(t, mux, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profiles []core.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "Desk A", profiles[0].Name)
}

func TestGetProfileNotFound(t *testing.T) {
	mux, _ := setupHandlers(t)
	rec := doJSON(t, mux, http.MethodGet, "/api/profiles/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplyProfileSetsSessionCookie(t *testing.T) {
	mux, eng := setupHandlers(t)
	ctx := context.Background()

	id, err := eng.SaveProfile(ctx, "Desk A")
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/profiles/"+id+"/apply", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Set-Cookie"))

	// The session endpoint reads the profile back from the cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Cookie", rec.Header().Get("Set-Cookie"))
	res := httptest.NewRecorder()
	mux.ServeHTTP(res, req)

	var session map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &session))
	assert.Equal(t, id, session["activeProfile"])
}

func TestUpdateProfileMetadata(t *testing.T) {
	mux, eng := setupHandlers(t)

	id, err := eng.SaveProfile(context.Background(), "Old Name")
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPut, "/api/profiles/"+id, map[string]any{
		"name":      "New Name",
		"isDefault": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated core.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "New Name", updated.Name)
	assert.True(t, updated.IsDefault)

	rec = doJSON(t, mux, http.MethodPut, "/api/profiles/ghost", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProfile(t *testing.T) {
	mux, eng := setupHandlers(t)

	id, err := eng.SaveProfile(context.Background(), "Doomed")
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodDelete, "/api/profiles/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/profiles/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportThenImportProfile(t *testing.T) {
	mux, eng := setupHandlers(t)

	id, err := eng.SaveProfile(context.Background(), "Portable")
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodGet, "/api/profiles/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="Portable.profile.json"`,
		rec.Header().Get("Content-Disposition"))
	exported := rec.Body.String()
	assert.Contains(t, exported, "Portable")

	req := httptest.NewRequest(http.MethodPost, "/api/profiles/import", strings.NewReader(exported))
	res := httptest.NewRecorder()
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var imported core.Profile
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &imported))
	assert.Equal(t, id, imported.ID)
}

func TestImportMalformedProfile(t *testing.T) {
	mux, _ := setupHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/profiles/import", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListProviders(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var providers []core.ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "demo-feed", providers[0].ID)
}

func TestConnectUnknownProvider(t *testing.T) {
	mux, _ := setupHandlers(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/providers/ghost/connect", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestConnectAndDisconnect(t *testing.T) {
	mux, eng := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/providers/demo-feed/connect", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "demo-feed", eng.ConnectedProvider())

	rec = doJSON(t, mux, http.MethodPost, "/api/disconnect", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, eng.ConnectedProvider())
}

func TestGetState(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st core.GridState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Len(t, st.ColumnState, 2)
}

func TestResetState(t *testing.T) {
	mux, eng := setupHandlers(t)
	ctx := context.Background()

	_, err := eng.SaveProfile(ctx, "Active")
	require.NoError(t, err)
	require.NotNil(t, eng.ActiveProfile())

	rec := doJSON(t, mux, http.MethodPost, "/api/state/reset", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, eng.ActiveProfile())
}

func TestStatusSnapshot(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats core.StreamStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "idle", stats.Mode)
	assert.False(t, stats.Connected)
}
