package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBackupConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".quarry.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath != "" {
			t.Errorf("expected empty backup path for non-existent config, got %s", backupPath)
		}
	})

	t.Run("backup existing config", func(t *testing.T) {
		testContent := "version: 1\nretrieval:\n  rrf_k: 60\n"
		if err := os.WriteFile(configPath, []byte(testContent), 0o644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		backupPath, err := BackupConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backupPath == "" {
			t.Fatal("expected non-empty backup path")
		}
		if !strings.Contains(backupPath, BackupSuffix) {
			t.Errorf("backup path should contain %s, got %s", BackupSuffix, backupPath)
		}

		backupContent, err := os.ReadFile(backupPath)
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if string(backupContent) != testContent {
			t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", backupContent, testContent)
		}
	})
}

func TestListConfigBackups(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".quarry.yaml")

	t.Run("no backups exist", func(t *testing.T) {
		backups, err := ListConfigBackups(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 0 {
			t.Errorf("expected 0 backups, got %d", len(backups))
		}
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		backups, err := ListConfigBackups(filepath.Join(tmpDir, "gone", ".quarry.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backups != nil {
			t.Errorf("expected nil backups, got %v", backups)
		}
	})

	t.Run("list returns newest first", func(t *testing.T) {
		timestamps := []string{"20260101-100000", "20260101-110000", "20260101-120000"}
		for _, ts := range timestamps {
			backupName := configPath + BackupSuffix + "." + ts
			if err := os.WriteFile(backupName, []byte("test"), 0o644); err != nil {
				t.Fatalf("failed to create backup: %v", err)
			}
			// Ensure distinct mod times for the sort
			time.Sleep(10 * time.Millisecond)
		}

		backups, err := ListConfigBackups(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(backups) != 3 {
			t.Fatalf("expected 3 backups, got %d", len(backups))
		}
		if !strings.HasSuffix(backups[0], "20260101-120000") {
			t.Errorf("newest backup should be first, got %s", backups[0])
		}
	})
}

func TestBackupConfigFile_CleanupKeepsNewest(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".quarry.yaml")

	if err := os.WriteFile(configPath, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Pre-seed more than MaxBackups old backups
	old := []string{"20250101-100000", "20250101-110000", "20250101-120000", "20250101-130000"}
	for _, ts := range old {
		if err := os.WriteFile(configPath+BackupSuffix+"."+ts, []byte("old"), 0o644); err != nil {
			t.Fatalf("failed to seed backup: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := BackupConfigFile(configPath); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	backups, err := ListConfigBackups(configPath)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(backups) > MaxBackups {
		t.Errorf("expected at most %d backups after cleanup, got %d", MaxBackups, len(backups))
	}
}
