package static

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	utls "github.com/refraction-networking/utls"
)

// newSNIServer starts a TLS server that records the SNI of every handshake
func newSNIServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>ok</h1></body></html>`))
	}))
	server.TLS = &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			mu.Lock()
			seen = append(seen, hello.ServerName)
			mu.Unlock()
			return nil, nil
		},
	}
	server.StartTLS()
	t.Cleanup(server.Close)

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func TestChromeTransport_RepeatedHandshakes(t *testing.T) {
	server, _ := newSNIServer(t)
	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())

	transport := chromeTransport(chromeDialer{config: &utls.Config{RootCAs: roots}})
	transport.DisableKeepAlives = true
	client := &http.Client{Transport: transport}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
	}
}

func TestChromeDialer_SNIPerHost(t *testing.T) {
	server, seen := newSNIServer(t)
	target := server.Listener.Addr().String()

	d := chromeDialer{
		config: &utls.Config{InsecureSkipVerify: true},
		dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var nd net.Dialer
			return nd.DialContext(ctx, network, target)
		},
	}

	hosts := []string{"a.test", "b.test", "c.test"}
	for _, h := range hosts {
		conn, err := d.DialTLSContext(context.Background(), "tcp", h+":443")
		if err != nil {
			t.Fatalf("dial %s: %v", h, err)
		}
		conn.Close()
	}

	got := seen()
	if len(got) != len(hosts) {
		t.Fatalf("Expected %d handshakes, got %v", len(hosts), got)
	}
	for i, h := range hosts {
		if got[i] != h {
			t.Errorf("handshake %d: expected SNI %q, got %q", i+1, h, got[i])
		}
	}
}
