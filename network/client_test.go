package network

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

func TestClientPostSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	c := NewClient(0)
	body, err := c.Post(rpctypes.UpstreamSpec{URL: srv.URL}, []byte(`{}`), 2*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`, string(body))
}

func TestClientPostTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(0)
	_, err := c.Post(rpctypes.UpstreamSpec{URL: srv.URL}, []byte(`{}`), 2*time.Second)
	require.Error(t, err)
	upErr, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, KindTransportTransient, upErr.Kind)
	assert.True(t, upErr.Retryable())
}

func TestClientPostClientErrorOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(0)
	_, err := c.Post(rpctypes.UpstreamSpec{URL: srv.URL}, []byte(`{}`), 2*time.Second)
	require.Error(t, err)
	upErr, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, KindClientError, upErr.Kind)
	assert.False(t, upErr.Retryable())
}

func TestClassifyTransportErrorTimeout(t *testing.T) {
	err := classifyTransportError(errTimeoutLike{})
	assert.Equal(t, KindTransportTransient, err.Kind)
}

type errTimeoutLike struct{}

func (errTimeoutLike) Error() string { return "dial tcp: i/o timeout" }

func TestAddrWithDefaultPort(t *testing.T) {
	assert.Equal(t, "example.com:443", addrWithDefaultPort("example.com", true))
	assert.Equal(t, "example.com:80", addrWithDefaultPort("example.com", false))
	assert.Equal(t, "example.com:8080", addrWithDefaultPort("example.com:8080", false))
}
