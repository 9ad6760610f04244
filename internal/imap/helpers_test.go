package imap

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailthread/internal/logger"
)

// countingConn counts writes so tests can assert that no I/O happened.
type countingConn struct {
	net.Conn
	writes atomic.Int32
}

func (c *countingConn) Write(p []byte) (int, error) {
	c.writes.Add(1)
	return c.Conn.Write(p)
}

// pipeDialer serves every dial with serve on the far end of a net.Pipe.
type pipeDialer struct {
	serve func(conn net.Conn)

	mu    sync.Mutex
	dials int
	wg    sync.WaitGroup
}

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer server.Close()
		d.serve(server)
	}()
	return client, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testOptions() DialOptions {
	return DialOptions{
		Host:           "imap.test",
		Mode:           ModePlain,
		Logger:         logger.Discard(),
		CommandTimeout: 5 * time.Second,
		DialTimeout:    5 * time.Second,
	}
}

// scriptedConn returns a Conn talking to serve over net.Pipe. The greeting
// is written before serve runs.
func scriptedConn(t *testing.T, serve func(r *bufio.Reader, w net.Conn)) (*Conn, *countingConn) {
	t.Helper()
	client, server := net.Pipe()
	cc := &countingConn{Conn: client}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		if _, err := server.Write([]byte("* OK test server ready\r\n")); err != nil {
			return
		}
		serve(bufio.NewReader(server), server)
	}()

	conn, err := NewConn(context.Background(), cc, testOptions())
	if err != nil {
		t.Fatalf("new conn: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("scripted server did not finish")
		}
	})
	return conn, cc
}

// expectCommand reads one command line and returns its tag.
func expectCommand(t *testing.T, r *bufio.Reader, want string) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Errorf("read command: %v", err)
		return ""
	}
	line = strings.TrimRight(line, "\r\n")
	tag, cmd, _ := strings.Cut(line, " ")
	if want != "" && !strings.HasPrefix(cmd, want) {
		t.Errorf("expected command %q, got %q", want, cmd)
	}
	return tag
}

// newTestCert issues a self-signed certificate for names.
func newTestCert(t *testing.T, names ...string) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: names[0]},
		DNSNames:              names,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}
