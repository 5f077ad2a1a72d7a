package runtime

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration errors.
var (
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("runtime: invalid configuration")
)

// IdentityConfig names the manager's identity component.
type IdentityConfig struct {
	Name string `yaml:"name"`
}

// AuthConfig contains optional broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ObjectRefConfig references a user or device object from configuration.
// When ObjectID is empty a fresh identity is generated at resolve time.
type ObjectRefConfig struct {
	ObjectID string `yaml:"objectId"`
	Name     string `yaml:"name"`
}

// Config is the root configuration of a Coaty agent.
//
// Five keys can be overridden by environment variables: COATY_BROKER_URL,
// COATY_IDENTITY_NAME, COATY_BROKER_USERNAME, COATY_BROKER_PASSWORD and
// COATY_LOG_LEVEL. All other keys are read from the file only.
type Config struct {
	// BrokerURL is the broker endpoint, e.g. "tcp://localhost:1883".
	BrokerURL string `yaml:"brokerUrl"`

	// Identity names the communication manager's component.
	Identity IdentityConfig `yaml:"identity"`

	// Auth contains optional broker credentials.
	Auth AuthConfig `yaml:"auth"`

	// ShouldAutoStart starts the communication manager when the
	// container resolves.
	ShouldAutoStart bool `yaml:"shouldAutoStart"`

	// ShouldAdvertiseIdentity advertises the manager's component on
	// Online. Defaults to true.
	ShouldAdvertiseIdentity *bool `yaml:"shouldAdvertiseIdentity"`

	// ShouldAdvertiseDevice advertises the associated device on Online.
	// Defaults to true.
	ShouldAdvertiseDevice *bool `yaml:"shouldAdvertiseDevice"`

	// UseReadableTopics enables name-prefixed identifiers on the wire.
	UseReadableTopics bool `yaml:"useReadableTopics"`

	// AssociatedUser is the user included in topics (optional).
	AssociatedUser *ObjectRefConfig `yaml:"associatedUser"`

	// AssociatedDevice is the device to advertise (optional).
	AssociatedDevice *ObjectRefConfig `yaml:"associatedDevice"`

	// MaxDeferredPublishes bounds the deferred publish queue.
	// 0 means unbounded.
	MaxDeferredPublishes int `yaml:"maxDeferredPublishes"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig contains logging settings, consumed by logging.New and
// logging.Output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads a YAML configuration file, applies environment overrides
// and defaults, and validates the result.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: Read, parse, or validation failure
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides maps COATY_* environment variables over the file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COATY_BROKER_URL"); v != "" {
		c.BrokerURL = v
	}
	if v := os.Getenv("COATY_IDENTITY_NAME"); v != "" {
		c.Identity.Name = v
	}
	if v := os.Getenv("COATY_BROKER_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv("COATY_BROKER_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := os.Getenv("COATY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyDefaults fills unset optional values.
func (c *Config) applyDefaults() {
	if c.Identity.Name == "" {
		c.Identity.Name = "CommunicationManager"
	}
	if c.ShouldAdvertiseIdentity == nil {
		c.ShouldAdvertiseIdentity = boolPtr(true)
	}
	if c.ShouldAdvertiseDevice == nil {
		c.ShouldAdvertiseDevice = boolPtr(true)
	}
}

// Validate checks the configuration for required values.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("%w: brokerUrl is required", ErrInvalidConfig)
	}
	if c.MaxDeferredPublishes < 0 {
		return fmt.Errorf("%w: maxDeferredPublishes must not be negative", ErrInvalidConfig)
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
