package output

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMirrorValidation(t *testing.T) {
	_, err := NewMirror(MirrorConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)

	_, err = NewMirror(MirrorConfig{Endpoint: "localhost:9000", Bucket: "pulse"})
	assert.Error(t, err)

	_, err = NewMirror(MirrorConfig{Bucket: "pulse", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)

	m, err := NewMirror(MirrorConfig{Endpoint: "localhost:9000", Bucket: "pulse", Prefix: "/fabric/", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "fabric/capacity/interfaces/fab1.xml", m.ObjectKey("capacity/interfaces/fab1.xml"))

	m, err = NewMirror(MirrorConfig{Endpoint: "localhost:9000", Bucket: "pulse", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "capacity/interfaces/fab1.xml", m.ObjectKey("capacity/interfaces/fab1.xml"))
}

func TestMirrorUpload(t *testing.T) {
	var mu sync.Mutex
	uploads := map[string]string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploads[r.URL.Path] = string(body)
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m, err := NewMirror(MirrorConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Bucket:    "pulse",
		Prefix:    "fabric",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fab1.xml")
	require.NoError(t, os.WriteFile(path, []byte("<interfaces/>"), 0o644))

	require.NoError(t, m.Upload(context.Background(), "capacity/interfaces/fab1.xml", path))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, uploads["/pulse/fabric/capacity/interfaces/fab1.xml"], "<interfaces/>")
}
