package drive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/camwatch/internal/common"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(&StaticTokenSource{AccessToken: "test-token"},
		WithBaseURLs(srv.URL+"/drive/v3", srv.URL+"/upload/drive/v3"))
	return c, srv
}

func TestSimpleUpload_SendsMetadataAndMedia(t *testing.T) {
	var gotAuth string
	var gotMeta, gotMedia string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.RawQuery, "uploadType=multipart")
		gotAuth = r.Header.Get("Authorization")

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/related", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		p1, err := mr.NextPart()
		require.NoError(t, err)
		b1, _ := io.ReadAll(p1)
		gotMeta = string(b1)

		p2, err := mr.NextPart()
		require.NoError(t, err)
		b2, _ := io.ReadAll(p2)
		gotMedia = string(b2)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"obj-1","name":"clip.mp4","webViewLink":"https://view/obj-1","webContentLink":"https://content/obj-1"}`)
	})

	c, _ := newTestClient(t, handler)

	obj, err := c.SimpleUpload(context.Background(),
		FileMeta{Name: "clip.mp4", MimeType: "video/mp4", FolderID: "folder-9"},
		strings.NewReader("payload-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Contains(t, gotMeta, `"name":"clip.mp4"`)
	assert.Contains(t, gotMeta, `"folder-9"`)
	assert.Equal(t, "payload-bytes", gotMedia)
	assert.Equal(t, "obj-1", obj.ID)
	assert.Equal(t, "https://view/obj-1", obj.WebViewLink)
}

func TestSimpleUpload_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.SimpleUpload(context.Background(), FileMeta{Name: "x"}, strings.NewReader("x"))
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestCreateSession_ReturnsLocation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.RawQuery, "uploadType=resumable")
		require.Equal(t, "video/mp4", r.Header.Get("X-Upload-Content-Type"))
		require.Equal(t, "1048576", r.Header.Get("X-Upload-Content-Length"))
		w.Header().Set("Location", "https://session.example/abc")
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newTestClient(t, handler)

	uri, err := c.CreateSession(context.Background(), FileMeta{Name: "clip.mp4", MimeType: "video/mp4"}, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "https://session.example/abc", uri)
}

func TestCreateSession_MissingLocation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.CreateSession(context.Background(), FileMeta{Name: "clip.mp4"}, 10)
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestUploadChunk_Incomplete308(t *testing.T) {
	var gotRange string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Content-Range")
		w.Header().Set("Range", "bytes=0-1048575")
		w.WriteHeader(http.StatusPermanentRedirect)
	})
	sessionSrv := httptest.NewServer(handler)
	defer sessionSrv.Close()
	c := NewClient(&StaticTokenSource{AccessToken: "t"})

	res, err := c.UploadChunk(context.Background(), sessionSrv.URL, make([]byte, 1<<20), 0, 4<<20)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, int64(1048576), res.NextOffset)
	assert.Equal(t, "bytes 0-1048575/4194304", gotRange)
}

func TestUploadChunk_UnparsableRange(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Range", "garbage")
		w.WriteHeader(http.StatusPermanentRedirect)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()
	c := NewClient(&StaticTokenSource{AccessToken: "t"})

	res, err := c.UploadChunk(context.Background(), srv.URL, []byte("abc"), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.NextOffset)
}

func TestUploadChunk_FinalResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"obj-2","webViewLink":"v","webContentLink":"c"}`)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()
	c := NewClient(&StaticTokenSource{AccessToken: "t"})

	res, err := c.UploadChunk(context.Background(), srv.URL, []byte("abc"), 0, 3)
	require.NoError(t, err)
	assert.True(t, res.Done)
	require.NotNil(t, res.Object)
	assert.Equal(t, "obj-2", res.Object.ID)
}

func TestUploadChunk_SessionExpired(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c := NewClient(&StaticTokenSource{AccessToken: "t"})

		_, err := c.UploadChunk(context.Background(), srv.URL, []byte("abc"), 0, 3)
		require.ErrorIs(t, err, common.ErrSessionExpired, "status %d", code)
		srv.Close()
	}
}

func TestMakePublic(t *testing.T) {
	var gotPath, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	})
	c, _ := newTestClient(t, handler)

	err := c.MakePublic(context.Background(), "obj-3")
	require.NoError(t, err)
	assert.Equal(t, "/drive/v3/files/obj-3/permissions", gotPath)
	assert.Contains(t, gotBody, `"role":"reader"`)
	assert.Contains(t, gotBody, `"type":"anyone"`)
}

func TestNextOffsetFromRange(t *testing.T) {
	tests := []struct {
		in     string
		offset int64
		ok     bool
	}{
		{"bytes=0-1048575", 1048576, true},
		{"bytes=0-0", 1, true},
		{"", 0, false},
		{"bytes=broken", 0, false},
		{"0-abc", 0, false},
	}
	for _, tc := range tests {
		got, ok := nextOffsetFromRange(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.offset, got, tc.in)
		}
	}
}

func TestDirectDownloadLink(t *testing.T) {
	obj := &Object{ID: "abc123"}
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=abc123", obj.DirectDownloadLink())
	assert.Empty(t, (&Object{}).DirectDownloadLink())
}
