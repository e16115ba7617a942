package browser

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFindChrome_Explicit(t *testing.T) {
	if got := FindChrome(filepath.Join(t.TempDir(), "no-such-chrome")); got != "" {
		t.Errorf("missing explicit binary should not resolve, got %q", got)
	}

	bin := filepath.Join(t.TempDir(), "my-chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := FindChrome(bin); got != bin {
		t.Errorf("expected %q, got %q", bin, got)
	}
}

func TestFindChrome_SearchesPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	if got := FindChrome(""); got != "" {
		t.Fatalf("empty PATH should find nothing, got %q", got)
	}

	bin := filepath.Join(dir, "chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := FindChrome(""); got != bin {
		t.Errorf("expected %q, got %q", bin, got)
	}
}

func TestBridge_LaunchNeedsProfile(t *testing.T) {
	b := NewBridge(BridgeConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if _, _, err := b.Launch(context.Background()); err == nil {
		t.Error("expected error without a profile dir")
	}
}

func TestBridge_AllocatorOptions(t *testing.T) {
	plain := NewBridge(BridgeConfig{ProfileDir: "p"}).allocatorOptions()
	withExec := NewBridge(BridgeConfig{ProfileDir: "p", ExecPath: "/opt/chrome"}).allocatorOptions()
	if len(withExec) != len(plain)+1 {
		t.Errorf("ExecPath should add one option: %d vs %d", len(withExec), len(plain))
	}
}

func TestSelectorSet_Override(t *testing.T) {
	def := WhatsAppSelectors()
	got := def.Override(SelectorSet{QRCode: "canvas[aria-label]", Caption: ""})

	if got.QRCode != "canvas[aria-label]" {
		t.Errorf("override not applied: %q", got.QRCode)
	}
	if got.Caption != def.Caption || got.URL != def.URL {
		t.Error("empty fields must keep the defaults")
	}
}
