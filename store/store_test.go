package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/goproxy-intercept"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), goproxy.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPluginDictIsShared(t *testing.T) {
	req := &Request{}
	d := req.PluginDict("tagger")
	d["seen"] = true

	assert.Equal(t, true, req.PluginDict("tagger")["seen"])
	assert.Empty(t, req.PluginDict("other"))
	assert.Len(t, req.Metadata, 2)
}

func TestSaveIsExplicit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	req := &Request{Host: "example.com", Method: "GET", URL: "http://example.com/"}
	require.NoError(t, s.Save(ctx, req))
	require.NotEmpty(t, req.ID)

	req.PluginDict("tagger")["color"] = "red"
	loaded, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.PluginDict("tagger"), "metadata must not persist before Save")

	require.NoError(t, s.Save(ctx, req))
	loaded, err = s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "red", loaded.PluginDict("tagger")["color"])
	assert.Equal(t, "example.com", loaded.Host)
}

func TestGetByPrefix(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a := &Request{ID: "aaaa1111-0000-0000-0000-000000000000"}
	b := &Request{ID: "aaaa2222-0000-0000-0000-000000000000"}
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	got, err := s.Get(ctx, "aaaa2")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = s.Get(ctx, "aaaa")
	assert.ErrorIs(t, err, ErrAmbiguous)
	_, err = s.Get(ctx, "ffff")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// LIKE wildcards in a typed prefix are literal
	for _, prefix := range []string{"%", "_", "aaaa_", "aaaa2%", `aaaa\`} {
		_, err = s.Get(ctx, prefix)
		assert.ErrorIs(t, err, ErrNotFound, prefix)
	}
}

func TestRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, u := range []string{"http://a/", "http://b/", "http://c/"} {
		require.NoError(t, s.Save(ctx, &Request{URL: u, CreatedAt: base.Add(time.Duration(i) * time.Minute), Raw: []byte("x")}))
	}

	list, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "http://c/", list[0].URL)
	assert.Equal(t, "http://b/", list[1].URL)
	assert.Empty(t, list[0].Raw)
}
