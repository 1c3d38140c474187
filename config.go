//go:build linux

package evbridge

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type ReactorConfig struct {
	Enabled         bool `yaml:"enabled" toml:"enabled"`
	Signals         bool `yaml:"signals" toml:"signals"`
	EventBufferSize int  `yaml:"event_buffer_size" toml:"event_buffer_size"`
	LockOsThread    bool `yaml:"lock_os_thread" toml:"lock_os_thread"`
}

type VHostConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Net     string `yaml:"net" toml:"net"`
	Address string `yaml:"address" toml:"address"`
	Thread  int    `yaml:"thread" toml:"thread"`
}

type Config struct {
	Global  Global        `yaml:"global" toml:"global"`
	Threads int           `yaml:"threads" toml:"threads"`
	Reactor ReactorConfig `yaml:"reactor" toml:"reactor"`
	VHosts  []VHostConfig `yaml:"vhosts" toml:"vhosts"`
}

func LoadConfig(filePath string) (*Config, error) {
	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	switch {
	case strings.HasSuffix(filePath, ".toml"):
		err = toml.Unmarshal(file, config)
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		err = yaml.Unmarshal(file, config)
	default:
		return nil, fmt.Errorf("%w: unknown config format %s", ErrInvalidConfig, filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filePath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be positive, got %d", ErrInvalidConfig, c.Threads)
	}
	if c.Reactor.EventBufferSize < 0 {
		return fmt.Errorf("%w: negative event buffer size", ErrInvalidConfig)
	}
	for _, vh := range c.VHosts {
		switch vh.Net {
		case "", "tcp", "tcp4", "tcp6":
		default:
			return fmt.Errorf("%w: vhost %s: unsupported net %q", ErrInvalidConfig, vh.Name, vh.Net)
		}
		if vh.Thread < 0 || vh.Thread >= c.Threads {
			return fmt.Errorf("%w: vhost %s: thread %d out of range", ErrInvalidConfig, vh.Name, vh.Thread)
		}
	}
	return nil
}
