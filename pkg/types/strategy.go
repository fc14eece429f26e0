package types

import (
	"fmt"
	"strings"
)

// DistributionStrategy selects the order in which pending tasks are handed
// out. It is fixed for the lifetime of a scheduler.
type DistributionStrategy int

const (
	// StrategyFIFO hands out the oldest pending task first.
	StrategyFIFO DistributionStrategy = iota
	// StrategyLIFO hands out the newest pending task first.
	StrategyLIFO
	// StrategyRandom hands out a uniformly chosen pending task.
	StrategyRandom
)

// String returns the strategy name as used in configuration.
func (s DistributionStrategy) String() string {
	switch s {
	case StrategyFIFO:
		return "fifo"
	case StrategyLIFO:
		return "lifo"
	case StrategyRandom:
		return "random"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(name string) (DistributionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fifo", "":
		return StrategyFIFO, nil
	case "lifo":
		return StrategyLIFO, nil
	case "random":
		return StrategyRandom, nil
	default:
		return StrategyFIFO, fmt.Errorf("unknown distribution strategy: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DistributionStrategy) MarshalText() ([]byte, error) {
	switch s {
	case StrategyFIFO, StrategyLIFO, StrategyRandom:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid distribution strategy: %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DistributionStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
