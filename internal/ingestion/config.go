package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"callintel/internal/config"
)

type Mode string

const (
	ModeSocket Mode = "socket"
	ModeHTTP   Mode = "http"
)

var (
	ErrInvalidMode   = errors.New("ingestion: mode must be socket or http")
	ErrInvalidConfig = errors.New("ingestion: invalid config")
	ErrApply         = errors.New("ingestion: config could not be applied")
)

type SocketSettings struct {
	Port       int      `json:"port"`
	AllowedIPs []string `json:"allowedIps"`
}

type HTTPSettings struct {
	Path       string   `json:"path"`
	Username   string   `json:"username"`
	Password   string   `json:"password,omitempty"`
	AllowedIPs []string `json:"allowedIps"`
}

// Config is the single active ingestion configuration.
type Config struct {
	Mode     Mode           `json:"mode"`
	IsActive bool           `json:"isActive"`
	Socket   SocketSettings `json:"socket"`
	HTTP     HTTPSettings   `json:"http"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Config) Validate() error {
	if c.Mode != ModeSocket && c.Mode != ModeHTTP {
		return ErrInvalidMode
	}
	if c.Socket.Port < 0 || c.Socket.Port > 65535 {
		return fmt.Errorf("%w: socket port %d", ErrInvalidConfig, c.Socket.Port)
	}
	if c.Mode == ModeHTTP && !strings.HasPrefix(c.HTTP.Path, "/") {
		return fmt.Errorf("%w: http path must start with /", ErrInvalidConfig)
	}
	if _, err := ParseAllowlist(c.Socket.AllowedIPs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := ParseAllowlist(c.HTTP.AllowedIPs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Redacted returns a copy safe to return to clients or write to audit.
func (c Config) Redacted() Config {
	if c.HTTP.Password != "" {
		c.HTTP.Password = "********"
	}
	return c
}

// DefaultsFrom seeds a Config from process configuration.
func DefaultsFrom(d config.IngestionDefaults) Config {
	return Config{
		Mode:     Mode(d.Mode),
		IsActive: d.Active,
		Socket: SocketSettings{
			Port:       d.SocketPort,
			AllowedIPs: d.SocketAllowedIPs,
		},
		HTTP: HTTPSettings{
			Path:       d.HTTPPath,
			Username:   d.HTTPUsername,
			Password:   d.HTTPPassword,
			AllowedIPs: d.HTTPAllowedIPs,
		},
	}
}
