package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSource_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twins.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"$dtId":"twin-1"}`), 0o600))

	r, err := openSource(path)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, `{"$dtId":"twin-1"}`, string(data))
}

func TestOpenSource_FileScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twins.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("line"), 0o600))

	r, err := openSource("file://" + path)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "line", string(data))
}

func TestOpenSource_MissingFile(t *testing.T) {
	_, err := openSource(filepath.Join(t.TempDir(), "missing.ndjson"))

	assert.Error(t, err)
}

func TestOpenSource_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-data"))
	}))
	defer server.Close()

	r, err := openSource(server.URL)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "remote-data", string(data))
}

func TestOpenSource_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := openSource(server.URL)

	assert.Error(t, err)
}
