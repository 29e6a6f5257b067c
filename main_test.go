package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPointerDoc = `{"mediaType":"application/vnd.ocipfs.layer.v1+json","layer":{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","digest":"sha256:aaaa","size":10,"annotations":{"io.ocipfs.layer.ipfs.cid":"Qm123","io.ocipfs.layer.fs.digest":"sha256:bbbb"}}}`

func runCommand(t *testing.T, args ...string) string {
	t.Helper()

	var gotUA string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/ipfs/Qm999" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, testPointerDoc)
	}))
	defer gateway.Close()

	configFile := filepath.Join(t.TempDir(), "config.hcl")
	src := fmt.Sprintf(`
gateway {
  url          = %q
  redirect_url = "https://ipfs.io/"
  timeout      = "5s"
}
`, gateway.URL+"/")
	if err := os.WriteFile(configFile, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configFile}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command failed: %s\n%s", err, stderr.String())
	}
	if gotUA != userAgent {
		t.Errorf("wrong User-Agent %q", gotUA)
	}
	return stdout.String()
}

func TestManifestCommand(t *testing.T) {
	got := runCommand(t, "manifest", "Qm999")
	for _, want := range []string{
		`"schemaVersion":2`,
		`"mediaType":"application/vnd.oci.image.manifest.v1+json"`,
		`"digest":"sha256:aaaa"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %s:\n%s", want, got)
		}
	}
}

func TestBlobCommand(t *testing.T) {
	got := runCommand(t, "blob", "Qm999", "sha256:aaaa")
	if got, want := strings.TrimSpace(got), "https://ipfs.io/ipfs/Qm123"; got != want {
		t.Errorf("wrong output %q; want %q", got, want)
	}
}
