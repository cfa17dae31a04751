// Package certgen generates a self-signed TLS certificate and key, persists
// them as PEM, and loads them for use in a tls.Config. cmd/egress does not
// call it: egress.Server.ListenAndServe serves plain HTTP.
package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// GenerateCert creates a self-signed certificate and key for dnsNames and
// persists them as PEM to certFile and keyFile. If both files already
// exist it does nothing, so restarts reuse the same identity.
func GenerateCert(certFile, keyFile string, dnsNames []string) error {
	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			return nil
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("certgen: generating private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return fmt.Errorf("certgen: generating serial number: %w", err)
	}
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	tmpl := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"echtun"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("certgen: creating certificate: %w", err)
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return fmt.Errorf("certgen: opening %s: %w", certFile, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return fmt.Errorf("certgen: writing %s: %w", certFile, err)
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return fmt.Errorf("certgen: opening %s: %w", keyFile, err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}); err != nil {
		return fmt.Errorf("certgen: writing %s: %w", keyFile, err)
	}
	return nil
}

// LoadOrGenerate ensures certFile/keyFile exist (generating a self-signed
// pair if not) and returns the parsed tls.Certificate ready for use in a
// tls.Config.Certificates slice.
func LoadOrGenerate(certFile, keyFile string, dnsNames []string) (tls.Certificate, error) {
	if err := GenerateCert(certFile, keyFile, dnsNames); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(certFile, keyFile)
}
