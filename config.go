package profile

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied by DefaultConfig and to zero values read from a file.
const (
	DefaultConnectTimeout          = 30 * time.Second
	DefaultUnlockTimeout           = 10 * time.Second
	DefaultVoiceRecognitionTimeout = 5 * time.Second
	DefaultJoinTimeout             = 1 * time.Second
	DefaultMaxConnections          = 2
)

// Config is the configuration of one profile service.
type Config struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log_level"`

	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	UnlockTimeout           time.Duration `yaml:"unlock_timeout"`
	VoiceRecognitionTimeout time.Duration `yaml:"voice_recognition_timeout"`
	JoinTimeout             time.Duration `yaml:"join_timeout"`

	// MaxConnections bounds simultaneously connecting/connected devices.
	// With 1, a new connection replaces the existing one.
	MaxConnections int `yaml:"max_connections"`

	RequiredUUID    string   `yaml:"required_uuid"`
	Grouping        bool     `yaml:"grouping"`
	RelatedProfiles []string `yaml:"related_profiles"`

	Store  StoreConfig  `yaml:"store"`
	Native NativeConfig `yaml:"native"`
}

// StoreConfig selects the connection policy store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, file or sqlite
	Path   string `yaml:"path"`
}

// NativeConfig selects how the native stack is reached.
type NativeConfig struct {
	Transport string        `yaml:"transport"` // loopback, serial or socket
	Path      string        `yaml:"path"`
	BaudRate  uint          `yaml:"baud_rate"`
	Address   string        `yaml:"address"`
	Timeout   time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Profile:                 ProfileVCP.String(),
		LogLevel:                "info",
		ConnectTimeout:          DefaultConnectTimeout,
		UnlockTimeout:           DefaultUnlockTimeout,
		VoiceRecognitionTimeout: DefaultVoiceRecognitionTimeout,
		JoinTimeout:             DefaultJoinTimeout,
		MaxConnections:          DefaultMaxConnections,
		Grouping:                true,
		Store:                   StoreConfig{Driver: "memory"},
		Native:                  NativeConfig{Transport: "loopback", BaudRate: 115200, Timeout: 2 * time.Second},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "can't read config")
	}
	return ParseConfig(b)
}

// ParseConfig parses YAML on top of DefaultConfig and validates the result.
func ParseConfig(b []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.Wrap(err, "can't parse config")
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.UnlockTimeout <= 0 {
		c.UnlockTimeout = d.UnlockTimeout
	}
	if c.VoiceRecognitionTimeout <= 0 {
		c.VoiceRecognitionTimeout = d.VoiceRecognitionTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Native.Transport == "" {
		c.Native.Transport = d.Native.Transport
	}
}

// Validate checks the fields that can't be defaulted.
func (c Config) Validate() error {
	if _, err := c.ProfileID(); err != nil {
		return err
	}
	if _, err := c.RelatedProfileIDs(); err != nil {
		return err
	}
	if _, _, err := c.RequiredServiceUUID(); err != nil {
		return err
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}

	switch c.Store.Driver {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store driver %s needs a path", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Native.Transport {
	case "loopback":
	case "serial":
		if c.Native.Path == "" {
			return fmt.Errorf("serial transport needs a path")
		}
	case "socket":
		if c.Native.Address == "" {
			return fmt.Errorf("socket transport needs an address")
		}
	default:
		return fmt.Errorf("unknown native transport %q", c.Native.Transport)
	}

	return nil
}

func (c Config) ProfileID() (ProfileID, error) {
	return ParseProfileID(c.Profile)
}

func (c Config) RelatedProfileIDs() ([]ProfileID, error) {
	out := make([]ProfileID, 0, len(c.RelatedProfiles))
	for _, s := range c.RelatedProfiles {
		id, err := ParseProfileID(s)
		if err != nil {
			return nil, errors.Wrap(err, "related_profiles")
		}
		out = append(out, id)
	}
	return out, nil
}

// RequiredServiceUUID returns the UUID a device must expose, if configured.
// Both 16-bit assigned numbers ("1844") and full UUIDs are accepted.
func (c Config) RequiredServiceUUID() (uuid.UUID, bool, error) {
	if c.RequiredUUID == "" {
		return uuid.Nil, false, nil
	}
	if len(c.RequiredUUID) == 4 {
		var v uint16
		if _, err := fmt.Sscanf(c.RequiredUUID, "%04x", &v); err != nil {
			return uuid.Nil, false, errors.Wrapf(err, "invalid required_uuid %q", c.RequiredUUID)
		}
		return UUID16(v), true, nil
	}
	u, err := uuid.Parse(c.RequiredUUID)
	if err != nil {
		return uuid.Nil, false, errors.Wrapf(err, "invalid required_uuid %q", c.RequiredUUID)
	}
	return u, true, nil
}
