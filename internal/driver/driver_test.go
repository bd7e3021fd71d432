package driver_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/quic-go/quic-go/http3"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/driver"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/stretchr/testify/require"
)

// selfSignedTLSConfig generates an in-memory self-signed certificate for
// host, adapted from the teacher's dnsservertest loopback fixture pattern.
func selfSignedTLSConfig(t *testing.T, host string) *tls.Config {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"quic-lab tests"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3"},
	}
}

func TestDriver_runAgainstLoopbackHTTP3Server(t *testing.T) {
	const host = "example.test"

	tlsConf := selfSignedTLSConfig(t, host)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer udpConn.Close()

	srv := &http3.Server{TLSConfig: tlsConf, Handler: mux}
	go func() { _ = srv.Serve(udpConn) }()
	defer srv.Close()

	port := udpConn.LocalAddr().(*net.UDPAddr).Port

	d := driver.New(&driver.Config{
		Logger: slogutil.New(&slogutil.Config{Output: io.Discard, Format: slogutil.FormatJSON}),
	})

	cc := &agd.ConnectionConfig{
		ALPN:                  []string{"h3"},
		MaxIdleTimeout:        5 * time.Second,
		MaxAckDelay:           25 * time.Millisecond,
		InitialMaxData:        1 << 20,
		InitialMaxStreamsBidi: 10,
		InitialMaxStreamsUni:  10,
		VerifyPeer:            false,
		Path:                  "/ping",
	}

	app := probe.NewHTTP3(probe.Config{Host: host, Path: cc.Path})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := d.Run(ctx, host, loopbackAddr(port), cc, app)
	require.NoError(t, err)
	require.True(t, res.HandshakeOK)
	require.True(t, res.Outcome.Success)
	require.Equal(t, driver.StateClosed, d.State())
}

// loopbackAddr satisfies the Driver's minimal netAddr contract.
type loopbackAddr int

func (p loopbackAddr) String() string {
	return fmt.Sprintf("127.0.0.1:%d", int(p))
}
