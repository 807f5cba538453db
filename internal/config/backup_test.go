package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBackupUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "apptindex", "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			t.Fatal(err)
		}
		content := "version: 1\nindex:\n  batch_size: 25\n"
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		backupPath, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(filepath.Base(backupPath), "config.yaml.bak.") {
			t.Errorf("unexpected backup name: %s", backupPath)
		}

		got, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(got) != content {
			t.Errorf("backup content mismatch: %s", got)
		}
	})
}

func TestBackupUserConfig_KeepsNewest(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configPath := GetUserConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxBackups+2; i++ {
		if _, err := BackupUserConfig(); err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	backups, err := ListUserConfigBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != MaxBackups {
		t.Errorf("expected %d backups, got %d", MaxBackups, len(backups))
	}
}

func TestRestoreUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configPath := GetUserConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("index:\n  batch_size: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	backupPath, err := BackupUserConfig()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(configPath, []byte("index:\n  batch_size: 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RestoreUserConfig(backupPath); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	got, _ := os.ReadFile(configPath)
	if !strings.Contains(string(got), "batch_size: 10") {
		t.Errorf("config not restored: %s", got)
	}

	if err := RestoreUserConfig(filepath.Join(tmpDir, "missing.bak")); err == nil {
		t.Error("expected error for missing backup")
	}
}
