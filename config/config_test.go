package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"Port": 9000,
		"PoolSize": 1,
		"ClassNames": ["fire"],
		"RecognitionIntervalMS": 250
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := configFromFile(path)
	if err != nil {
		t.Fatalf("configFromFile: %v", err)
	}
	if c.Port != 9000 {
		t.Errorf("Port = %d, want 9000", c.Port)
	}
	if c.PoolSize != 1 {
		t.Errorf("PoolSize = %d, want 1", c.PoolSize)
	}
	if len(c.ClassNames) != 1 || c.ClassNames[0] != "fire" {
		t.Errorf("ClassNames = %v, want [fire]", c.ClassNames)
	}
	// Unset fields keep their defaults.
	if c.QueueSize != Default().QueueSize {
		t.Errorf("QueueSize = %d, want default %d", c.QueueSize, Default().QueueSize)
	}
}

func TestConfigFromFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"PoolSize": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := configFromFile(path); err == nil {
		t.Error("expected validation error for PoolSize 0")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Load(ctx, filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Fatalf("Load with missing file should not error, got %v", err)
	}
	if Get().Port != Default().Port {
		t.Errorf("Port = %d, want default %d", Get().Port, Default().Port)
	}
}
