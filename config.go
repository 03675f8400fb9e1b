package keva

import (
	"errors"
	"net"

	"github.com/BurntSushi/toml"
)

// Config holds the server parameters, mirroring the .TOML input files
// accepted by the kevad binary.
type Config struct {
	Address string
	Port    int
}

// DefaultConfig returns the stock listener parameters.
func DefaultConfig() *Config {
	return &Config{
		Address: "0.0.0.0",
		Port:    1234,
	}
}

// ValidateConfig checks the address and port ranges. Port 0 is accepted
// and binds an ephemeral port, which tests rely on.
func (c *Config) ValidateConfig() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	ip := net.ParseIP(c.Address)
	if ip == nil || ip.To4() == nil {
		return errors.New("address is not a valid IPv4 address")
	}
	return nil
}

// LoadConfig parses a TOML document over the defaults and validates the
// result.
func LoadConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}
