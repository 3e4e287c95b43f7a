package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atinyakov/tagkeeper/internal/certgen"
)

func TestRun_WritesLoadableCA(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	if err := run(dir, "localhost"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"ca.crt", "ca.key", "server.crt", "server.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	ca, err := certgen.LoadCA(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatalf("LoadCA: %v", err)
	}
	if !ca.Cert.IsCA {
		t.Error("loaded certificate is not a CA")
	}
}

func TestRun_NoHosts(t *testing.T) {
	if err := run(t.TempDir()); err == nil {
		t.Error("expected error without hosts")
	}
}
