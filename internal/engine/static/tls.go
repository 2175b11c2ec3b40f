package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
)

// chromeH1Spec returns a fresh Chrome ClientHello with ALPN limited to
// http/1.1, since net/http cannot speak h2 over a utls connection.
// ApplyPreset mutates the extensions it is given, so every handshake needs
// its own spec.
func chromeH1Spec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}
	return &spec, nil
}

// chromeDialer opens TLS connections with a Chrome fingerprint
type chromeDialer struct {
	// config is cloned for every connection; nil means system roots
	config *utls.Config
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d chromeDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	spec, err := chromeH1Spec()
	if err != nil {
		return nil, fmt.Errorf("build tls spec: %w", err)
	}

	dial := d.dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 10 * time.Second}).DialContext
	}
	conn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	cfg := &utls.Config{}
	if d.config != nil {
		cfg = d.config.Clone()
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	cfg.ServerName = host

	tlsConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// newChromeTransport returns a transport whose TLS handshake looks like Chrome's
func newChromeTransport() *http.Transport {
	return chromeTransport(chromeDialer{})
}

func chromeTransport(d chromeDialer) *http.Transport {
	t := newTransport()
	if _, err := chromeH1Spec(); err != nil {
		return t
	}
	t.DialTLSContext = d.DialTLSContext
	t.ForceAttemptHTTP2 = false
	return t
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}
