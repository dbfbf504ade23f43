package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tg-lounge/tg-lounge/app/relay"
)

// config is the yaml configuration of the bot
type config struct {
	BotToken           string    `yaml:"bot_token"`
	BotName            string    `yaml:"bot_name"` // suffixes the stats socket path
	Database           []string  `yaml:"database"` // [type, args...], type is json, sqlite or postgres
	BlacklistContact   string    `yaml:"blacklist_contact"`
	EnableSigning      bool      `yaml:"enable_signing"`
	AllowRemoveCommand bool      `yaml:"allow_remove_command"`
	AllowContacts      bool      `yaml:"allow_contacts"`
	AllowDocuments     bool      `yaml:"allow_documents"`
	MediaLimitPeriod   int       `yaml:"media_limit_period"`  // hours
	SignLimitInterval  int       `yaml:"sign_limit_interval"` // seconds, default 600
	SecretSalt         string    `yaml:"secret_salt"`         // hex
	Locale             string    `yaml:"locale"`
	LinkedNetwork      yaml.Node `yaml:"linked_network"` // inline {short: handle} or a file path
	HideForwardFrom    []string  `yaml:"hide_forward_from"`
	RelayWorkers       int       `yaml:"relay_workers"`
	AuditLog           string    `yaml:"audit_log"`
	StatusListen       string    `yaml:"status_listen"` // e.g. "127.0.0.1:8080", empty disables
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the path comes from the cli
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	res := &config{SignLimitInterval: 600}
	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if res.BotToken == "" {
		return nil, fmt.Errorf("bot_token is required in %s", path)
	}
	if len(res.Database) == 0 {
		return nil, fmt.Errorf("database is required in %s", path)
	}
	return res, nil
}

// network builds the linked network from the config value, which is either an
// inline mapping or a path to a yaml file with one
func (c *config) network() (*relay.Network, error) {
	switch c.LinkedNetwork.Kind {
	case 0: // key absent
		return relay.NewNetwork(nil), nil
	case yaml.ScalarNode:
		var path string
		if err := c.LinkedNetwork.Decode(&path); err != nil {
			return nil, fmt.Errorf("bad linked_network value: %w", err)
		}
		return relay.NewNetworkFile(path)
	case yaml.MappingNode:
		links := map[string]string{}
		if err := c.LinkedNetwork.Decode(&links); err != nil {
			return nil, fmt.Errorf("bad linked_network mapping: %w", err)
		}
		return relay.NewNetwork(links), nil
	default:
		return nil, fmt.Errorf("linked_network must be a mapping or a file path")
	}
}
