package certgen

import (
	"path/filepath"
	"testing"
)

func TestGenerateCertCreatesFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := GenerateCert(certFile, keyFile, []string{"egress.example"}); err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}

	cert, err := LoadOrGenerate(certFile, keyFile, []string{"egress.example"})
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("expected at least one certificate in chain")
	}
}

func TestGenerateCertIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := GenerateCert(certFile, keyFile, nil); err != nil {
		t.Fatalf("first GenerateCert: %v", err)
	}
	first, err := LoadOrGenerate(certFile, keyFile, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := GenerateCert(certFile, keyFile, nil); err != nil {
		t.Fatalf("second GenerateCert: %v", err)
	}
	second, err := LoadOrGenerate(certFile, keyFile, nil)
	if err != nil {
		t.Fatal(err)
	}

	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatal("expected existing cert/key to be reused, not regenerated")
	}
}
