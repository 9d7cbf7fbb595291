package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}

	if cfg.Kernel.Driver != "sim" {
		t.Errorf("expected driver sim, got %s", cfg.Kernel.Driver)
	}

	if cfg.Kernel.MicDistanceM != 0.046 {
		t.Errorf("expected mic_distance_m 0.046, got %f", cfg.Kernel.MicDistanceM)
	}

	if cfg.Tracker.OutputIntervalMs != 1000 {
		t.Errorf("expected output_interval_ms 1000, got %d", cfg.Tracker.OutputIntervalMs)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Logging.Level)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected default port 9000, got %d", cfg.Server.Port)
	}
}

func TestLoad_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
kernel:
  driver: usb
  mic_distance_m: 0.05
tracker:
  output_interval_ms: 500
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Kernel.Driver != "usb" {
		t.Errorf("expected driver usb, got %s", cfg.Kernel.Driver)
	}

	if cfg.Kernel.MicDistanceM != 0.05 {
		t.Errorf("expected mic_distance_m 0.05, got %f", cfg.Kernel.MicDistanceM)
	}

	if cfg.Tracker.OutputIntervalMs != 500 {
		t.Errorf("expected output_interval_ms 500, got %d", cfg.Tracker.OutputIntervalMs)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("DOAPIPE_SERVER_PORT", "7777")
	defer os.Unsetenv("DOAPIPE_SERVER_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid port too low",
			modify: func(c *Config) {
				c.Server.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port too high",
			modify: func(c *Config) {
				c.Server.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "invalid kernel driver",
			modify: func(c *Config) {
				c.Kernel.Driver = "bogus"
			},
			wantErr: true,
		},
		{
			name: "negative mic distance",
			modify: func(c *Config) {
				c.Kernel.MicDistanceM = -1
			},
			wantErr: true,
		},
		{
			name: "negative output interval",
			modify: func(c *Config) {
				c.Tracker.OutputIntervalMs = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Server.WriteTimeout != 10*time.Second {
		t.Errorf("expected write_timeout 10s, got %v", cfg.Server.WriteTimeout)
	}

	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Errorf("expected graceful_timeout 5s, got %v", cfg.Server.GracefulTimeout)
	}
}
