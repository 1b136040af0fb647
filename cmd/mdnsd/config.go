package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"github.com/joshuafuller/tinymdns/responder"
)

// Environment overrides.
const (
	envHostname  = "MDNSD_HOSTNAME"
	envInterface = "MDNSD_INTERFACE"
	envLogLevel  = "MDNSD_LOG_LEVEL"
)

// Config is the daemon configuration.
type Config struct {
	// Hostname is claimed as <hostname>.local. Empty uses the system name.
	Hostname string `yaml:"hostname"`

	// Interface to bind. Empty picks the first multicast interface that is up.
	Interface string `yaml:"interface"`

	// Instance is the default instance name of services without a name.
	Instance string `yaml:"instance"`

	LogLevel    string `yaml:"log_level"`
	PacketTrace bool   `yaml:"packet_trace"`

	Services []ServiceConfig `yaml:"services"`
	Queries  []QueryConfig   `yaml:"queries"`
	Hosts    []string        `yaml:"hosts"`
}

// ServiceConfig is one advertised service.
type ServiceConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Protocol string            `yaml:"protocol"`
	Port     uint16            `yaml:"port"`
	TXT      map[string]string `yaml:"txt"`
}

// QueryConfig is one browsed service type.
type QueryConfig struct {
	Type     string `yaml:"type"`
	Protocol string `yaml:"protocol"`
}

// LoadConfig reads the YAML file at path, applies the environment
// overrides and validates the result. An empty path starts from an empty
// configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envHostname); ok && v != "" {
		c.Hostname = v
	}
	if v, ok := lookup(envInterface); ok && v != "" {
		c.Interface = v
	}
	if v, ok := lookup(envLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Validate fills in defaults and checks every entry.
func (c *Config) Validate() error {
	c.Hostname = strings.TrimSuffix(strings.TrimSuffix(c.Hostname, "."), ".local")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := levelOption(c.LogLevel); err != nil {
		return err
	}
	for i := range c.Services {
		s := &c.Services[i]
		s.Type = strings.TrimPrefix(s.Type, "_")
		s.Protocol = strings.ToLower(strings.TrimPrefix(s.Protocol, "_"))
		if s.Protocol == "" {
			s.Protocol = "tcp"
		}
		if err := checkServiceType(fmt.Sprintf("services[%d]", i), s.Type, s.Protocol); err != nil {
			return err
		}
		if s.Port == 0 {
			return &responder.ValidationError{Field: fmt.Sprintf("services[%d].port", i), Value: s.Port, Message: "must not be zero"}
		}
	}
	for i := range c.Queries {
		q := &c.Queries[i]
		q.Type = strings.TrimPrefix(q.Type, "_")
		q.Protocol = strings.ToLower(strings.TrimPrefix(q.Protocol, "_"))
		if q.Protocol == "" {
			q.Protocol = "tcp"
		}
		if err := checkServiceType(fmt.Sprintf("queries[%d]", i), q.Type, q.Protocol); err != nil {
			return err
		}
	}
	for i, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			return &responder.ValidationError{Field: fmt.Sprintf("hosts[%d]", i), Value: h, Message: "must not be empty"}
		}
	}
	return nil
}

func checkServiceType(field, service, proto string) error {
	if service == "" {
		return &responder.ValidationError{Field: field + ".type", Value: service, Message: "must not be empty"}
	}
	if proto != "tcp" && proto != "udp" {
		return &responder.ValidationError{Field: field + ".protocol", Value: proto, Message: "must be tcp or udp"}
	}
	return nil
}

func levelOption(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	}
	return nil, &responder.ValidationError{Field: "log_level", Value: name, Message: "must be debug, info, warn, error or none"}
}
