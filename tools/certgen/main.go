// Command certgen bootstraps the development PKI for the tagkeeper server:
// a CA plus a server certificate, written under ./certs. Owner certificates
// are issued later by the server's enroll endpoint.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atinyakov/tagkeeper/internal/certgen"
)

func main() {
	if err := run("certs", "localhost"); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Println("✅ Certificates generated into ./certs")
}

func run(dir string, hosts ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	ca, err := certgen.NewCA("tagkeeper CA")
	if err != nil {
		return err
	}
	caKey, err := ca.KeyPEM()
	if err != nil {
		return err
	}
	if err := certgen.WritePair(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"), ca.CertPEM(), caKey); err != nil {
		return err
	}

	certPEM, keyPEM, err := ca.IssueServerCert(hosts...)
	if err != nil {
		return err
	}
	return certgen.WritePair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"), certPEM, keyPEM)
}
