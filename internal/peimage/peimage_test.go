package peimage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindPairedNoSiblingImage(t *testing.T) {
	dir := t.TempDir()
	pdbPath := filepath.Join(dir, "module.pdb")
	if err := os.WriteFile(pdbPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := FindPaired(pdbPath)
	if err != nil {
		t.Fatalf("FindPaired with no sibling image: %v", err)
	}
	if img != nil {
		t.Errorf("FindPaired = %+v, want nil", img)
	}
}

func TestFindPairedPrefersExeOverDll(t *testing.T) {
	dir := t.TempDir()
	pdbPath := filepath.Join(dir, "module.pdb")
	exePath := filepath.Join(dir, "module.exe")
	dllPath := filepath.Join(dir, "module.dll")

	for _, p := range []string{pdbPath, exePath, dllPath} {
		if err := os.WriteFile(p, []byte("not a real PE image"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := FindPaired(pdbPath)
	if err == nil {
		t.Fatal("expected a parse error from the garbage image contents")
	}
	if !strings.Contains(err.Error(), "module.exe") {
		t.Errorf("FindPaired should have attempted module.exe first; error was %v", err)
	}
	if !errors.Is(err, ErrIO) && !errors.Is(err, ErrFormat) && !errors.Is(err, ErrUnsupported) {
		t.Errorf("error should classify as one of the package's sentinel kinds: %v", err)
	}
}

func TestFindPairedFallsBackToDll(t *testing.T) {
	dir := t.TempDir()
	pdbPath := filepath.Join(dir, "module.pdb")
	dllPath := filepath.Join(dir, "module.dll")

	for _, p := range []string{pdbPath, dllPath} {
		if err := os.WriteFile(p, []byte("not a real PE image"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := FindPaired(pdbPath)
	if err == nil {
		t.Fatal("expected a parse error from the garbage image contents")
	}
	if !strings.Contains(err.Error(), "module.dll") {
		t.Errorf("FindPaired should fall back to module.dll when no .exe exists; error was %v", err)
	}
}

func TestFindPairedFallsBackToLastExtensionWhenSuffixIsNotLowercasePdb(t *testing.T) {
	dir := t.TempDir()
	// TrimSuffix(".pdb") won't match ".PDB"; FindPaired falls back to
	// stripping whatever the last "." introduces.
	pdbPath := filepath.Join(dir, "module.PDB")
	exePath := filepath.Join(dir, "module.exe")

	for _, p := range []string{pdbPath, exePath} {
		if err := os.WriteFile(p, []byte("not a real PE image"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := FindPaired(pdbPath)
	if err == nil {
		t.Fatal("expected a parse error from the garbage image contents")
	}
	if !strings.Contains(err.Error(), "module.exe") {
		t.Errorf("FindPaired should still find module.exe via the fallback extension-stripping path; error was %v", err)
	}
}
