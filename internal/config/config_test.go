package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestViperConfigGetString(t *testing.T) {
	v := viper.New()
	v.Set("name", "test")
	cfg := New(v)

	if got := cfg.GetString("name"); got != "test" {
		t.Errorf("GetString('name') = %q, want %q", got, "test")
	}
}

func TestViperConfigGetInt(t *testing.T) {
	v := viper.New()
	v.Set("port", 8080)
	cfg := New(v)

	if got := cfg.GetInt("port"); got != 8080 {
		t.Errorf("GetInt('port') = %d, want %d", got, 8080)
	}
}

func TestViperConfigGetBool(t *testing.T) {
	v := viper.New()
	v.Set("enabled", true)
	cfg := New(v)

	if got := cfg.GetBool("enabled"); !got {
		t.Error("GetBool('enabled') = false, want true")
	}
}

func TestViperConfigGetDuration(t *testing.T) {
	v := viper.New()
	v.Set("timeout", "5s")
	cfg := New(v)

	want := 5 * time.Second
	if got := cfg.GetDuration("timeout"); got != want {
		t.Errorf("GetDuration('timeout') = %v, want %v", got, want)
	}
}

func TestViperConfigIsSet(t *testing.T) {
	v := viper.New()
	v.Set("exists", true)
	cfg := New(v)

	if !cfg.IsSet("exists") {
		t.Error("IsSet('exists') = false, want true")
	}
	if cfg.IsSet("missing") {
		t.Error("IsSet('missing') = true, want false")
	}
}

func TestViperConfigSub(t *testing.T) {
	v := viper.New()
	v.Set("platform.mode", "poll")
	v.Set("platform.poll_interval", "30s")
	cfg := New(v)

	sub := cfg.Sub("platform")
	if sub == nil {
		t.Fatal("Sub('platform') = nil")
	}
	if got := sub.GetString("mode"); got != "poll" {
		t.Errorf("sub.GetString('mode') = %q, want poll", got)
	}
	if got := sub.GetDuration("poll_interval"); got != 30*time.Second {
		t.Errorf("sub.GetDuration('poll_interval') = %v, want 30s", got)
	}
}

func TestViperConfigSubMissing(t *testing.T) {
	v := viper.New()
	cfg := New(v)

	sub := cfg.Sub("nonexistent")
	if sub == nil {
		t.Fatal("Sub('nonexistent') should return empty Config, not nil")
	}
	// Should return zero values without panic.
	if got := sub.GetString("anything"); got != "" {
		t.Errorf("empty config GetString() = %q, want empty", got)
	}
}

func TestViperConfigUnmarshal(t *testing.T) {
	v := viper.New()
	v.Set("host", "localhost")
	v.Set("port", 9090)
	cfg := New(v)

	var target struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}
	if err := cfg.Unmarshal(&target); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if target.Host != "localhost" {
		t.Errorf("Host = %q, want %q", target.Host, "localhost")
	}
	if target.Port != 9090 {
		t.Errorf("Port = %d, want %d", target.Port, 9090)
	}
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	// Should not panic and return zero values.
	if got := cfg.GetString("key"); got != "" {
		t.Errorf("nil viper GetString() = %q, want empty", got)
	}
}

func TestViperConfigUnmarshalKey(t *testing.T) {
	v := viper.New()
	v.Set("reachability.targets", []map[string]any{
		{"name": "gw", "address": "192.168.1.1:53"},
	})
	cfg := New(v)

	var targets []struct {
		Name    string `mapstructure:"name"`
		Address string `mapstructure:"address"`
	}
	if err := cfg.UnmarshalKey("reachability.targets", &targets); err != nil {
		t.Fatalf("UnmarshalKey() error = %v", err)
	}
	if len(targets) != 1 || targets[0].Name != "gw" || targets[0].Address != "192.168.1.1:53" {
		t.Errorf("targets = %+v, want one gw entry", targets)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := New(v)

	if got := cfg.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
	if got := cfg.GetString("platform.mode"); got != "auto" {
		t.Errorf("platform.mode = %q, want %q", got, "auto")
	}
	if got := cfg.GetDuration("platform.poll_interval"); got != 5*time.Second {
		t.Errorf("platform.poll_interval = %v, want 5s", got)
	}
	if !cfg.GetBool("plugins.reachability.enabled") {
		t.Error("plugins.reachability.enabled = false, want true")
	}
	if cfg.GetBool("plugins.notify.enabled") {
		t.Error("plugins.notify.enabled = true, want false")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netreach.yaml")
	data := []byte(`
server:
  port: 9100
platform:
  mode: poll
  poll_interval: 30s
reachability:
  targets:
    - name: router
      host: router.lan
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := New(v)

	if got := cfg.GetInt("server.port"); got != 9100 {
		t.Errorf("server.port = %d, want 9100", got)
	}
	if got := cfg.GetString("server.host"); got != "0.0.0.0" {
		t.Errorf("server.host = %q, want default 0.0.0.0", got)
	}
	platform := cfg.Sub("platform")
	if got := platform.GetDuration("poll_interval"); got != 30*time.Second {
		t.Errorf("platform.poll_interval = %v, want 30s", got)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NETREACH_SERVER_PORT", "9200")
	t.Setenv("NETREACH_PLATFORM_MODE", "poll")

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := New(v)

	if got := cfg.GetInt("server.port"); got != 9200 {
		t.Errorf("server.port = %d, want 9200", got)
	}
	if got := cfg.GetString("platform.mode"); got != "poll" {
		t.Errorf("platform.mode = %q, want poll", got)
	}
}
