package goproxy

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/Windscribe/goproxy-intercept/internal/signer"
)

// CertTerminator answers MITM'd tunnels with certificates minted on the fly
// by a certificate authority the clients trust.
type CertTerminator struct {
	cache *signer.Cache
}

// NewCertTerminator signs leaf certificates with ca and keeps each one for ttl.
func NewCertTerminator(ca tls.Certificate, ttl time.Duration) *CertTerminator {
	return &CertTerminator{cache: signer.NewCache(ca, ttl)}
}

func (t *CertTerminator) Terminate(ctx *ProxyCtx, host string, client net.Conn) (net.Conn, error) {
	fallback := stripPort(host)
	conn := tls.Server(client, &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = fallback
			}
			ctx.Options.Debugf(ctx, "Signing certificate for %s", name)
			return t.cache.Sign(name)
		},
	})
	if err := conn.Handshake(); err != nil {
		return nil, err
	}
	return conn, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

var tlsClientSkipVerify = &tls.Config{InsecureSkipVerify: true}
