package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZacharyZcR/XBEPatch/internal/ips"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	patch := &ips.Patch{Records: []ips.Record{{Offset: 4, Data: []byte{0x90, 0x90}}}}
	payload, err := patch.MarshalBinary()
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/mods.toml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleList))
	})
	mux.HandleFunc("/broken.toml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[[mods]\n"))
	})
	mux.HandleFunc("/mod.ips", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	mux.HandleFunc("/garbage.ips", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a patch</html>"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server) *Client {
	return &Client{HTTP: srv.Client(), Log: zerolog.Nop()}
}

func TestGetRejectsErrorStatus(t *testing.T) {
	srv := newTestServer(t)
	c := testClient(srv)

	_, err := c.Get(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	body, err := c.Get(context.Background(), srv.URL+"/mods.toml")
	require.NoError(t, err)
	assert.Equal(t, sampleList, string(body))
}

func TestUpdateModList(t *testing.T) {
	srv := newTestServer(t)
	c := testClient(srv)
	path := filepath.Join(t.TempDir(), "cache", "mods.toml")

	list, err := c.UpdateModList(context.Background(), srv.URL+"/mods.toml", path)
	require.NoError(t, err)
	assert.Len(t, list.Mods, 2)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, list, loaded)

	// A broken remote list leaves the cached copy untouched.
	_, err = c.UpdateModList(context.Background(), srv.URL+"/broken.toml", path)
	assert.Error(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleList, string(data))
}

func TestDownload(t *testing.T) {
	srv := newTestServer(t)
	c := testClient(srv)

	p, err := c.Download(context.Background(), Mod{Name: "nop", DownloadURL: srv.URL + "/mod.ips"})
	require.NoError(t, err)
	require.Len(t, p.Records, 1)
	assert.Equal(t, uint32(4), p.Records[0].Offset)

	_, err = c.Download(context.Background(), Mod{Name: "bad", DownloadURL: srv.URL + "/garbage.ips"})
	assert.Error(t, err)

	_, err = c.Download(context.Background(), Mod{Name: "gone", DownloadURL: srv.URL + "/gone.ips"})
	assert.Error(t, err)
}

func TestGetCancelled(t *testing.T) {
	srv := newTestServer(t)
	c := testClient(srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, srv.URL+"/mods.toml")
	assert.Error(t, err)
}
