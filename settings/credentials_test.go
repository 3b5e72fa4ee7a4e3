package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDataDirAndFilePathUseXDGDataHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error: %v", err)
	}
	if want := filepath.Join(tmp, "pomt"); dir != want {
		t.Fatalf("DataDir() = %q, want %q", dir, want)
	}
	if want := filepath.Join(tmp, "pomt", "auth.json"); FilePath() != want {
		t.Fatalf("FilePath() = %q, want %q", FilePath(), want)
	}
}

func TestSaveLoadRemoveLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	if err := SetAPIKey("huggingface", "hf_abcdefghijkl"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if err := SetAPIKeyWithBaseURL("custom-openai", "sk-123456789", "http://llm.local/v1"); err != nil {
		t.Fatalf("SetAPIKeyWithBaseURL: %v", err)
	}

	info, err := os.Stat(filepath.Join(tmp, "pomt", "auth.json"))
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("auth.json mode = %o, want 600", info.Mode().Perm())
	}

	if got := GetAPIKey("huggingface"); got != "hf_abcdefghijkl" {
		t.Fatalf("GetAPIKey = %q", got)
	}
	if got := GetBaseURL("custom-openai"); got != "http://llm.local/v1" {
		t.Fatalf("GetBaseURL = %q", got)
	}
	if ids := Load().IDs(); !reflect.DeepEqual(ids, []string{"custom-openai", "huggingface"}) {
		t.Fatalf("IDs = %v", ids)
	}

	// Updating the key keeps the base URL.
	if err := SetAPIKey("custom-openai", "sk-new-key-000"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if got := GetBaseURL("custom-openai"); got != "http://llm.local/v1" {
		t.Fatalf("base URL lost: %q", got)
	}

	if err := Remove("huggingface"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if GetAPIKey("huggingface") != "" {
		t.Fatal("key still present after Remove")
	}
	if err := Remove("missing"); err != nil {
		t.Fatalf("Remove(missing): %v", err)
	}
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	os.MkdirAll(filepath.Join(tmp, "pomt"), 0o700)
	os.WriteFile(filepath.Join(tmp, "pomt", "auth.json"), []byte("{broken"), 0o600)

	if store := Load(); len(store) != 0 {
		t.Fatalf("Load() = %v, want empty", store)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("short"); got != "****" {
		t.Fatalf("MaskKey(short) = %q", got)
	}
	if got := MaskKey("hf_abcdefghijkl"); got != "hf_a...ijkl" {
		t.Fatalf("MaskKey = %q", got)
	}
}
