package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseGraphFlag parses the "id:runs" form used on the command line.
func ParseGraphFlag(s string) (GraphConfig, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return GraphConfig{}, fmt.Errorf("invalid graph %q, expected id:runs", s)
	}
	runs, err := strconv.Atoi(s[idx+1:])
	if err != nil || runs <= 0 {
		return GraphConfig{}, fmt.Errorf("invalid run count in %q", s)
	}
	return GraphConfig{ID: s[:idx], Runs: runs}, nil
}

// ResolveConfig returns the algorithm configuration for the graph: its
// inline config, its config file, or fallback, in that order.
func (g GraphConfig) ResolveConfig(fallback string) (string, error) {
	switch {
	case g.Config != "":
		return g.Config, nil
	case g.ConfigFile != "":
		data, err := os.ReadFile(g.ConfigFile)
		if err != nil {
			return "", fmt.Errorf("graph %s: read config: %w", g.ID, err)
		}
		return string(data), nil
	default:
		return fallback, nil
	}
}

// LoadGAConfig reads the shared algorithm configuration, if configured.
func (c HostConfig) LoadGAConfig() (string, error) {
	if c.GAConfigFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.GAConfigFile)
	if err != nil {
		return "", fmt.Errorf("read ga config: %w", err)
	}
	return string(data), nil
}
