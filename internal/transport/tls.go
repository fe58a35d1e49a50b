package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// ALPN is the application protocol negotiated by the quic backend.
const ALPN = "replica/1"

var (
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrTLSBadCA            = errors.New("transport: no certificates in ca file")
)

// TLSConfig selects certificates. With no files set the server generates a
// self-signed certificate and clients must skip verification.
type TLSConfig struct {
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
}

func (c TLSConfig) selfSigned() bool {
	return strings.TrimSpace(c.CertFile) == "" && strings.TrimSpace(c.KeyFile) == ""
}

func (c TLSConfig) ValidateServer() error {
	if c.selfSigned() {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}

func (c TLSConfig) ValidateClient() error {
	if !c.InsecureSkipVerify && strings.TrimSpace(c.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

// ServerTLS builds the listener config.
func ServerTLS(c TLSConfig) (*tls.Config, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	var (
		cert tls.Certificate
		err  error
	)
	if c.selfSigned() {
		cert, err = SelfSigned("localhost")
	} else {
		cert, err = tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("transport.ServerTLS: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLS builds the dialer config.
func ClientTLS(c TLSConfig) (*tls.Config, error) {
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	out := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
	if strings.TrimSpace(c.CAFile) != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport.ClientTLS: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrTLSBadCA, c.CAFile)
		}
		out.RootCAs = pool
	}
	return out, nil
}

// SelfSigned generates a one day certificate for host and the loopback
// addresses.
func SelfSigned(host string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
