package proxy

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/model-hub/internal/download"
	"github.com/any-hub/model-hub/internal/logging"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/server"
)

type fakeFetcher struct {
	results map[string]*download.Result
	err     error
	urls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, target string, _ progress.Func) (*download.Result, error) {
	f.urls = append(f.urls, target)
	if f.err != nil {
		return nil, f.err
	}
	if result, ok := f.results[target]; ok {
		return result, nil
	}
	return nil, &download.DownloadError{URL: target, Stage: download.StageStatus, Err: io.ErrUnexpectedEOF}
}

func newHandlerApp(t *testing.T, fetcher Fetcher) *fiber.App {
	t.Helper()
	base, err := url.Parse("https://cdn.museum.local/models")
	require.NoError(t, err)
	logger := logging.NewDiscard()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Assets:     NewHandler(fetcher, base, logger),
		ListenPort: 5000,
	})
	require.NoError(t, err)
	return app
}

func TestHandlerServesCachedAsset(t *testing.T) {
	target := "https://cdn.museum.local/models/hall/A.glb"
	fetcher := &fakeFetcher{results: map[string]*download.Result{
		target: {URL: target, Payload: []byte("glTF-binary"), Source: download.SourceCache},
	}}
	app := newHandlerApp(t, fetcher)

	resp, err := app.Test(httptest.NewRequest("GET", "/assets/hall/A.glb", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "glTF-binary", string(body))
	assert.Equal(t, "model/gltf-binary", resp.Header.Get("Content-Type"))
	assert.Equal(t, "true", resp.Header.Get("X-Model-Hub-Cache-Hit"))
	assert.Equal(t, "cache", resp.Header.Get("X-Model-Hub-Source"))
	assert.Equal(t, []string{target}, fetcher.urls)
}

func TestHandlerReportsNetworkSource(t *testing.T) {
	target := "https://cdn.museum.local/models/scene.gltf"
	fetcher := &fakeFetcher{results: map[string]*download.Result{
		target: {URL: target, Payload: []byte("{}"), Source: download.SourceNetwork},
	}}
	app := newHandlerApp(t, fetcher)

	resp, err := app.Test(httptest.NewRequest("GET", "/assets/scene.gltf", nil))
	require.NoError(t, err)
	assert.Equal(t, "model/gltf+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "false", resp.Header.Get("X-Model-Hub-Cache-Hit"))
}

func TestHandlerMapsDownloadFailureTo502(t *testing.T) {
	app := newHandlerApp(t, &fakeFetcher{})

	resp, err := app.Test(httptest.NewRequest("GET", "/assets/missing.bin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"download_failed"}`, string(body))
}

func TestHandlerMapsOtherErrorsTo500(t *testing.T) {
	app := newHandlerApp(t, &fakeFetcher{err: context.Canceled})

	resp, err := app.Test(httptest.NewRequest("GET", "/assets/A.glb", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestCleanAssetPath(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"hall/A.glb":       {"hall/A.glb", true},
		"hall/./A.glb":     {"hall/A.glb", true},
		"":                 {"", false},
		"../secret.glb":    {"", false},
		"hall/../../x.glb": {"", false},
		"/abs.glb":         {"", false},
	}
	for raw, tc := range cases {
		got, ok := cleanAssetPath(raw)
		assert.Equal(t, tc.ok, ok, "cleanAssetPath(%q)", raw)
		assert.Equal(t, tc.want, got, "cleanAssetPath(%q)", raw)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"A.glb":      "model/gltf-binary",
		"B.GLB":      "model/gltf-binary",
		"scene.gltf": "model/gltf+json",
		"buffer.bin": "application/octet-stream",
	}
	for rel, want := range cases {
		assert.Equal(t, want, contentTypeFor(rel), "contentTypeFor(%q)", rel)
	}
}
