package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProxySupplier_Empty(t *testing.T) {
	s := NewProxySupplier(context.Background(), nil, "http://unused", time.Second)
	assert.Equal(t, "", s.Get())
}

func TestProxySupplier_RoundRobin(t *testing.T) {
	s := &proxySupplier{proxies: []string{"http://a:1", "http://b:2", "http://c:3"}}

	got := []string{s.Get(), s.Get(), s.Get(), s.Get()}
	assert.Equal(t, []string{"http://a:1", "http://b:2", "http://c:3", "http://a:1"}, got)
}

func TestProxySupplier_DropsUnreachableProxies(t *testing.T) {
	// The test server answers proxied requests itself, so it acts as a working proxy
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dead := "http://127.0.0.1:1"
	s := NewProxySupplier(context.Background(), []string{dead, server.URL}, server.URL, 2*time.Second)

	assert.Equal(t, server.URL, s.Get())
	assert.Equal(t, server.URL, s.Get())
}
