package recovery_lib

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/common/e2e_config"
	"github.com/kis8ya/elliptics-qa/common/locations"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"
)

// OptionsFromConfig reads the recovery section of the e2e configuration.
func OptionsFromConfig(cfg e2e_config.E2EConfig) Options {
	r := cfg.Recovery
	return Options{
		ConsistentFilesNumber:       r.ConsistentFilesNumber,
		InconsistentFilesNumber:     r.InconsistentFilesNumber,
		InconsistentFilesPercentage: r.InconsistentFilesPercentage,
		NotExistentPercentage:       r.NotExistentPercentage,
		FileSize:                    r.FileSize,
		IndexesNumber:               r.IndexesNumber,
		DroppedGroupsNumber:         r.DroppedGroupsNumber,
		NProcess:                    r.NProcess,
		CacheSyncTimeout:            time.Duration(r.CacheSyncTimeout) * time.Second,
		ConsistentKeysFile:          r.ConsistentKeysFile,
		InconsistentKeysFile:        r.InconsistentKeysFile,
		DroppedGroupsFile:           r.DroppedGroupsFile,
	}
}

// envs counts the environments built so far, each one draws its keys from
// its own seed.
var envs int64

// GetEnv builds the scenario environment from the suite test environment.
// Merge runs inside the first group of the bench, dc across all of them.
func GetEnv(mode Mode) *Env {
	cfg := e2e_config.GetConfig()
	nodes := common.GetNodes()
	groups := elliptics.Groups(nodes)
	if mode == ModeMerge {
		groups = groups[:1]
	}
	seed := cfg.Recovery.Seed
	if seed != 0 {
		seed += envs
	}
	envs++
	rng := common.NewRand(seed)
	return &Env{
		Session:  common.SessionForGroups(groups),
		Nodes:    nodes,
		Resolver: common.GetResolver(),
		Backends: common.GetBench(),
		Writer: &KeyWriter{
			Rand:        rng,
			MinSize:     cfg.Recovery.MinFileSize,
			MaxSize:     cfg.Recovery.MaxFileSize,
			Concurrency: cfg.Recovery.Concurrency,
		},
		Rand:    rng,
		Options: OptionsFromConfig(cfg),
		Tool:    cfg.Recovery.Tool,
		WorkDir: locations.GetRecoveryDir(),
	}
}

// ClusterRunner plays the recovery tool against an in-memory cluster.
func ClusterRunner(c *ellipticstest.Cluster, output io.Writer) Runner {
	return RunnerFunc(func(ctx context.Context, args []string) (Result, error) {
		start := time.Now()
		code, err := c.RunRecovery(ctx, args, output)
		if err != nil {
			return Result{}, errors.Wrap(err, "in-memory recovery")
		}
		return Result{ExitCode: code, Elapsed: time.Since(start)}, nil
	})
}

// GetRunner returns the runner matching the bench: the real tool, or its
// in-memory rendition when the suite runs against the memory driver.
func GetRunner(output io.Writer) Runner {
	cfg := e2e_config.GetConfig()
	if output == nil {
		output = os.Stdout
	}
	if c, ok := common.GetBench().(*ellipticstest.Cluster); ok {
		return ClusterRunner(c, output)
	}
	return &ExecRunner{
		Timeout: time.Duration(cfg.Recovery.Timeout) * time.Second,
		Output:  output,
	}
}
