package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

func genHostConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 65535),
		gen.IntRange(0, 2),
		gen.Int64Range(0, int64(24*time.Hour)),
		gen.Identifier(),
	).Map(func(values []interface{}) HostConfig {
		return HostConfig{
			Address:           "127.0.0.1:" + strconv.Itoa(values[0].(int)),
			Strategy:          types.DistributionStrategy(values[1].(int)),
			AssignmentTimeout: time.Duration(values[2].(int64)),
			ReportFile:        values[3].(string) + ".json",
		}
	})
}

func genWorkerConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64Range(int64(time.Millisecond), int64(time.Hour)),
		gen.Int64Range(int64(time.Millisecond), int64(time.Hour)),
		gen.Int64Range(int64(time.Millisecond), int64(time.Hour)),
		gen.Identifier(),
	).Map(func(values []interface{}) WorkerConfig {
		return WorkerConfig{
			ReconnectDelay: time.Duration(values[0].(int64)),
			PollInterval:   time.Duration(values[1].(int64)),
			DialTimeout:    time.Duration(values[2].(int64)),
			Command:        values[3].(string),
		}
	})
}

func TestConfigRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("host and worker sections survive a YAML round trip", prop.ForAll(
		func(host HostConfig, worker WorkerConfig) bool {
			cfg := DefaultConfig()
			cfg.Host = host
			cfg.Worker = worker

			data, err := cfg.Serialize()
			if err != nil {
				return false
			}
			parsed, err := ParseConfig(data)
			if err != nil {
				return false
			}

			return parsed.Host.Address == host.Address &&
				parsed.Host.Strategy == host.Strategy &&
				parsed.Host.AssignmentTimeout == host.AssignmentTimeout &&
				parsed.Host.ReportFile == host.ReportFile &&
				parsed.Worker.ReconnectDelay == worker.ReconnectDelay &&
				parsed.Worker.PollInterval == worker.PollInterval &&
				parsed.Worker.DialTimeout == worker.DialTimeout &&
				parsed.Worker.Command == worker.Command
		},
		genHostConfig(),
		genWorkerConfig(),
	))

	properties.Property("generated configs validate", prop.ForAll(
		func(host HostConfig, worker WorkerConfig) bool {
			cfg := DefaultConfig()
			cfg.Host = host
			cfg.Worker = worker
			return cfg.Validate() == nil
		},
		genHostConfig(),
		genWorkerConfig(),
	))

	properties.TestingRun(t)
}
