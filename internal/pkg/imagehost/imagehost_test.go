package imagehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PulseChat/config"
)

const pixel = "data:image/png;base64,iVBORw0KGgo="

// newUploader points a Cloudinary client at handler instead of the real API.
func newUploader(t *testing.T, handler http.HandlerFunc, folder string, timeout time.Duration) Uploader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := New(&config.ImageHostConfig{
		CloudName:    "demo",
		APIKey:       "key-1",
		APISecret:    "secret-1",
		Folder:       folder,
		UploadPrefix: srv.URL,
		Timeout:      1,
	})
	require.NoError(t, err)
	if timeout > 0 {
		u.(*CloudinaryUploader).timeout = timeout
	}
	return u
}

func TestCloudinaryUploader_Upload(t *testing.T) {
	u := newUploader(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/demo/")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/upload"), r.URL.Path)
		assert.Equal(t, pixel, r.FormValue("file"))
		assert.Equal(t, "key-1", r.FormValue("api_key"))
		assert.Equal(t, "pulsechat", r.FormValue("folder"))
		// signed upload
		assert.NotEmpty(t, r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))
		assert.Empty(t, r.FormValue("api_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_id":"pulsechat/a","secure_url":"https://img.example.com/a.png"}`))
	}, "pulsechat", 0)

	got, err := u.Upload(context.Background(), pixel)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/a.png", got)
}

func TestCloudinaryUploader_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		dataURI string
	}{
		{name: "not a data uri", status: http.StatusOK, body: `{}`, dataURI: "https://x/y.png"},
		{name: "host error", status: http.StatusBadRequest, body: `{"error":{"message":"Invalid image file"}}`, dataURI: pixel},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, dataURI: pixel},
		{name: "missing url", status: http.StatusOK, body: `{}`, dataURI: pixel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUploader(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "", 0)

			_, err := u.Upload(context.Background(), tt.dataURI)
			assert.ErrorIs(t, err, ErrUpload)
		})
	}
}

func TestCloudinaryUploader_Timeout(t *testing.T) {
	u := newUploader(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, "", 20*time.Millisecond)

	_, err := u.Upload(context.Background(), pixel)
	assert.ErrorIs(t, err, ErrUpload)
}

func TestNew(t *testing.T) {
	u, err := New(&config.ImageHostConfig{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, u)

	u, err = New(&config.ImageHostConfig{CloudName: "demo", APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &CloudinaryUploader{}, u)

	got, err := Noop{}.Upload(context.Background(), pixel)
	require.NoError(t, err)
	assert.Equal(t, pixel, got)

	_, err = Noop{}.Upload(context.Background(), "")
	assert.ErrorIs(t, err, ErrUpload)
}
