package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
)

type fakeS3 struct {
	mu      sync.Mutex
	puts    map[string]string // path -> content type
	deletes []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		f.puts[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		f.deletes = append(f.deletes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*S3Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{puts: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewS3Client(context.Background(), config.StorageConfig{
		Enabled:    true,
		Endpoint:   srv.URL,
		Region:     "us-east-1",
		Bucket:     "artifacts",
		AccessKey:  "AKIDTEST",
		SecretKey:  "secret",
		PresignTTL: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	return client, fake
}

func TestCreationKey(t *testing.T) {
	assert.Equal(t, "users/u1/creations/c1.png", CreationKey("u1", "c1", ".png"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".bin", extensionFor("application/x-unknown-thing"))
}

func TestSaveArtifact(t *testing.T) {
	client, fake := newTestClient(t)

	res, err := client.SaveArtifact(context.Background(), "user-1", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Key, "users/user-1/creations/"))
	assert.True(t, strings.HasSuffix(res.Key, ".png"))
	assert.Equal(t, int64(9), res.Size)
	assert.Equal(t, `"abc123"`, res.Checksum)
	assert.Equal(t, "image/png", fake.puts["/artifacts/"+res.Key])

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/"+res.Key, u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestDeleteFile(t *testing.T) {
	client, fake := newTestClient(t)

	require.NoError(t, client.DeleteFile(context.Background(), "users/u/creations/x.png"))
	assert.Equal(t, []string{"/artifacts/users/u/creations/x.png"}, fake.deletes)
}
