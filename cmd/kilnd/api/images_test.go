package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/lib/images"
)

func recordTestImage(t *testing.T, svc *ApiService, tag string) *images.Image {
	t.Helper()
	img, err := svc.ImageManager.RecordImage(context.Background(), images.RecordImageRequest{
		Tag:        tag,
		BaseImage:  "docker.io/library/ubuntu:16.04",
		BaseDigest: testDigest,
		BuildID:    "bld-test",
		SizeBytes:  2048,
	})
	require.NoError(t, err)
	return img
}

func TestListImages(t *testing.T) {
	svc := newTestService(t, newFakeEngine(), nil)
	ts := newTestServer(t, svc)

	recordTestImage(t, svc, "acme/velocyto:1")
	recordTestImage(t, svc, "acme/velocyto:2")

	resp, err := http.Get(ts.URL + "/images")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var imgs []Image
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&imgs))
	require.Len(t, imgs, 2)
}

func TestGetImage(t *testing.T) {
	svc := newTestService(t, newFakeEngine(), nil)
	ts := newTestServer(t, svc)

	recorded := recordTestImage(t, svc, "acme/velocyto:1")

	resp, err := http.Get(ts.URL + "/images/" + recorded.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var img Image
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&img))
	assert.Equal(t, recorded.ID, img.ID)
	assert.Equal(t, "acme/velocyto:1", img.Tag)
	assert.Equal(t, "docker.io/library/ubuntu:16.04", img.BaseImage)
	assert.Equal(t, testDigest, img.BaseDigest)
	assert.Equal(t, int64(2048), img.SizeBytes)
}

func TestGetImageNotFound(t *testing.T) {
	svc := newTestService(t, newFakeEngine(), nil)
	ts := newTestServer(t, svc)

	resp, err := http.Get(ts.URL + "/images/img-nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteImage(t *testing.T) {
	eng := newFakeEngine()
	svc := newTestService(t, eng, nil)
	ts := newTestServer(t, svc)

	recorded := recordTestImage(t, svc, "acme/velocyto:1")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/images/"+recorded.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The engine copy goes too by default
	assert.Equal(t, []string{"acme/velocyto:1"}, eng.removedImages())

	_, err = svc.ImageManager.GetImage(context.Background(), recorded.ID)
	require.ErrorIs(t, err, images.ErrNotFound)
}

func TestDeleteImageKeepsEngineCopy(t *testing.T) {
	eng := newFakeEngine()
	svc := newTestService(t, eng, nil)
	ts := newTestServer(t, svc)

	recorded := recordTestImage(t, svc, "acme/velocyto:1")

	req, err := http.NewRequest(http.MethodDelete,
		ts.URL+"/images/"+recorded.ID+"?keep_engine_image=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, eng.removedImages())
}

func TestHealth(t *testing.T) {
	svc := newTestService(t, newFakeEngine(), nil)
	ts := newTestServer(t, svc)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "fake", health.Engine)
	assert.True(t, health.EngineAvailable)
	assert.True(t, health.DataDirWritable)
}

func TestHealthDegradedWithoutEngine(t *testing.T) {
	eng := newFakeEngine()
	eng.unavailable = true
	svc := newTestService(t, eng, nil)
	ts := newTestServer(t, svc)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.EngineAvailable)
}
