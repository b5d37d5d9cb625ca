package support

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("GEOIPD_TEST_ENV", "value")
	if got := GetEnv("GEOIPD_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("GEOIPD_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("GEOIPD_TEST_INT", "42")
	if got := GetEnvInt("GEOIPD_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("GEOIPD_TEST_INT", "nope")
	if got := GetEnvInt("GEOIPD_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt with invalid value returned %d, want 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("GEOIPD_TEST_BOOL", " true ")
	if !GetEnvBool("GEOIPD_TEST_BOOL", false) {
		t.Fatal("GetEnvBool returned false, want true")
	}
	if GetEnvBool("GEOIPD_TEST_BOOL_MISSING", false) {
		t.Fatal("GetEnvBool returned true for missing key")
	}
}

func TestRemoveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zip")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after RemoveFile: %v", err)
	}

	if err := RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile on missing file: %v", err)
	}
}
