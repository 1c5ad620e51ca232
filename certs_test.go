package goproxy

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windscribe/goproxy-intercept/internal/signer"
)

func TestCertTerminator(t *testing.T) {
	https := httptest.NewTLSServer(newMux())
	defer https.Close()

	ca, err := signer.NewCA("Intercept Test", time.Hour)
	require.NoError(t, err)

	opt := testProxyOptions()
	opt.TLSTerminator = NewCertTerminator(ca, time.Hour)
	proxy := NewProxyHttpServer(opt)
	proxy.OnRequest().HandleConnect(AlwaysMitm)
	proxy.OnResponse().Do(HandleBytes(func(b []byte, ctx *ProxyCtx) []byte {
		return append(b, "-signed"...)
	}))
	s := httptest.NewServer(proxy)
	defer s.Close()

	// the client trusts the proxy CA only, never the origin certificate
	roots := x509.NewCertPool()
	roots.AddCert(ca.Leaf)
	proxyURL, _ := url.Parse(s.URL)
	tr := &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{RootCAs: roots},
	}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr}

	target := strings.Replace(https.URL, "127.0.0.1", "localhost", 1)
	assert.Equal(t, "bobo-signed", getOrFail(t, target+"/bobo", client))
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "example.com", stripPort("example.com:443"))
	assert.Equal(t, "example.com", stripPort("example.com"))
	assert.Equal(t, "::1", stripPort("[::1]:443"))
}
