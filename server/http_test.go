package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T) (*httptest.Server, *memBlobStore, *memImageStore) {
	t.Helper()
	log, _ := newTestLogger()
	blobs := newMemBlobStore()
	images := newMemImageStore()

	rt := NewRouter(log)
	NewHandlers(blobs, images, log).Register(rt)

	ts := httptest.NewServer(NewHTTPHandler(rt, log))
	t.Cleanup(ts.Close)
	return ts, blobs, images
}

func doHTTP(t *testing.T, method, url string, headers map[string]string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHTTP_Health(t *testing.T) {
	ts, _, _ := newTestHTTPServer(t)

	resp, body := doHTTP(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestHTTP_RoundTrip(t *testing.T) {
	ts, _, _ := newTestHTTPServer(t)
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0xfe, 0xff}

	resp, body := doHTTP(t, http.MethodPost, ts.URL+"/images/upload?filename=dot.png&metadata=%7B%22k%22%3A%22v%22%7D",
		map[string]string{"X-User-Id": "alice", "Content-Type": "image/png"}, data)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, float64(len(data)), created["size"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, created["metadata"])
	id := created["image_id"].(string)

	resp, body = doHTTP(t, http.MethodGet, ts.URL+"/images/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename="dot.png"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, data, body)

	resp, body = doHTTP(t, http.MethodGet, ts.URL+"/images?user_id=alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed listResult
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 1, listed.Count)

	resp, _ = doHTTP(t, http.MethodDelete, ts.URL+"/images/"+id, map[string]string{"X-User-Id": "alice"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doHTTP(t, http.MethodGet, ts.URL+"/images/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Image not found"}`, string(body))
}

func TestHTTP_TextBody(t *testing.T) {
	ts, blobs, _ := newTestHTTPServer(t)

	resp, body := doHTTP(t, http.MethodPost, ts.URL+"/images/upload?filename=note.svg",
		map[string]string{"X-User-Id": "alice", "Content-Type": "text/plain; charset=utf-8"}, []byte("hello"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &created))
	stored, err := blobs.Get(context.Background(), created["s3_key"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), stored)
}

func TestHTTP_UnknownRoute(t *testing.T) {
	ts, _, _ := newTestHTTPServer(t)

	resp, body := doHTTP(t, http.MethodPatch, ts.URL+"/images/abc", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Not found"}`, string(body))
}

func TestHTTP_BodyLimit(t *testing.T) {
	log, _ := newTestLogger()
	blobs := newMemBlobStore()
	images := newMemImageStore()
	rt := NewRouter(log)
	NewHandlers(blobs, images, log).Register(rt)

	h := NewHTTPHandler(rt, log)
	h.maxBody = 16
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	headers := map[string]string{"X-User-Id": "alice", "Content-Type": "image/png"}

	resp, body := doHTTP(t, http.MethodPost, ts.URL+"/images/upload", headers, bytes.Repeat([]byte{0xff}, 17))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Request body too large"}`, string(body))
	assert.Equal(t, 0, images.count())

	resp, body = doHTTP(t, http.MethodPost, ts.URL+"/images/upload", headers, bytes.Repeat([]byte{0xff}, 16))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, float64(16), created["size"])
	assert.Equal(t, 1, images.count())
}

func TestHTTP_MissingUser(t *testing.T) {
	ts, _, images := newTestHTTPServer(t)

	resp, body := doHTTP(t, http.MethodPost, ts.URL+"/images/upload", map[string]string{"Content-Type": "image/jpeg"}, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"X-User-Id header is required"}`, string(body))
	assert.Equal(t, 0, images.count())
}

func TestIsTextContent(t *testing.T) {
	tests := map[string]bool{
		"":                                  false,
		"image/png":                         false,
		"image/svg+xml":                     false,
		"application/octet-stream":          false,
		"application/pdf":                   false,
		"text/plain":                        true,
		"text/html; charset=utf-8":          true,
		"application/json":                  true,
		"application/vnd.api+json":          true,
		"application/x-www-form-urlencoded": true,
	}

	for contentType, want := range tests {
		assert.Equal(t, want, isTextContent(contentType), contentType)
	}
}
