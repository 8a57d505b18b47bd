package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flulink/engine/internal/engine"
	"github.com/flulink/engine/internal/router"
	"github.com/flulink/engine/internal/server"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	r := router.New(router.AgentsFrom(engine.New(engine.Options{})), router.DefaultConfig())
	ts := httptest.NewServer(server.New(r))
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestDispatchRoundTrip(t *testing.T) {
	c := testClient(t)
	out, err := c.Dispatch(context.Background(), "spectral-tags", json.RawMessage(`{"content":"is this a question?"}`))
	require.NoError(t, err)

	var resp router.TagsResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Contains(t, resp.Tags, "question")
}

func TestDispatchDecodesEngineErrors(t *testing.T) {
	c := testClient(t)
	_, err := c.Dispatch(context.Background(), "teleport", nil)
	require.Error(t, err)
	assert.Equal(t, engine.KindUnknownAction, engine.KindOf(err))

	_, err = c.Dispatch(context.Background(), "similar-users", json.RawMessage(`{"seedVector":[]}`))
	assert.Equal(t, engine.KindMissingSeedVector, engine.KindOf(err))
}

func TestDispatchUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Dispatch(context.Background(), "spectral-tags", nil)
	assert.Equal(t, engine.KindUnavailable, engine.KindOf(err))
	assert.False(t, c.Healthy(context.Background()))
}

func TestHealthy(t *testing.T) {
	assert.True(t, testClient(t).Healthy(context.Background()))
}

func TestDecodeErrorPlainBody(t *testing.T) {
	err := decodeError(http.StatusBadGateway, []byte("bad gateway\n"))
	assert.EqualError(t, err, "status 502: bad gateway")
	assert.Equal(t, engine.Kind(""), engine.KindOf(err))
}
