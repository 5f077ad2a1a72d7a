package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes a temporary YAML config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "brokerUrl: tcp://localhost:1883\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("BrokerURL = %q", cfg.BrokerURL)
	}
	if cfg.Identity.Name != "CommunicationManager" {
		t.Errorf("Identity.Name = %q, want CommunicationManager", cfg.Identity.Name)
	}
	if cfg.ShouldAdvertiseIdentity == nil || !*cfg.ShouldAdvertiseIdentity {
		t.Error("ShouldAdvertiseIdentity default = false, want true")
	}
	if cfg.ShouldAdvertiseDevice == nil || !*cfg.ShouldAdvertiseDevice {
		t.Error("ShouldAdvertiseDevice default = false, want true")
	}
	if cfg.ShouldAutoStart {
		t.Error("ShouldAutoStart default = true, want false")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
brokerUrl: tcp://broker.example:1883
identity:
  name: KitchenAgent
shouldAutoStart: true
shouldAdvertiseIdentity: false
useReadableTopics: true
maxDeferredPublishes: 64
associatedUser:
  objectId: 0ea293e5-f8be-4a5d-886b-0e231e8234b2
  name: HHO
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Identity.Name != "KitchenAgent" {
		t.Errorf("Identity.Name = %q", cfg.Identity.Name)
	}
	if !cfg.ShouldAutoStart {
		t.Error("ShouldAutoStart = false, want true")
	}
	if *cfg.ShouldAdvertiseIdentity {
		t.Error("ShouldAdvertiseIdentity = true, want false")
	}
	if !cfg.UseReadableTopics {
		t.Error("UseReadableTopics = false, want true")
	}
	if cfg.MaxDeferredPublishes != 64 {
		t.Errorf("MaxDeferredPublishes = %d, want 64", cfg.MaxDeferredPublishes)
	}
	if cfg.AssociatedUser == nil || cfg.AssociatedUser.Name != "HHO" {
		t.Errorf("AssociatedUser = %+v", cfg.AssociatedUser)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COATY_BROKER_URL", "tcp://override:1883")
	t.Setenv("COATY_IDENTITY_NAME", "Overridden")

	path := writeConfig(t, "brokerUrl: tcp://file:1883\nidentity:\n  name: FromFile\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrokerURL != "tcp://override:1883" {
		t.Errorf("BrokerURL = %q, want env override", cfg.BrokerURL)
	}
	if cfg.Identity.Name != "Overridden" {
		t.Errorf("Identity.Name = %q, want env override", cfg.Identity.Name)
	}
}

func TestLoadRejectsMissingBrokerURL(t *testing.T) {
	path := writeConfig(t, "identity:\n  name: NoBroker\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsNegativeQueueBound(t *testing.T) {
	path := writeConfig(t, "brokerUrl: tcp://x:1883\nmaxDeferredPublishes: -1\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "brokerUrl: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted malformed YAML")
	}
}
