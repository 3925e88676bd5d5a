package recovery_lib

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

// TestCase shapes a scenario once its keys are written: it may move keys
// between the ledger buckets and adds its options to the command.
type TestCase struct {
	Name    string
	Prepare func(ctx context.Context, s *Scenario, opts *CommandOptions) error
}

// DefaultCase recovers every outage key with its indexes.
var DefaultCase = TestCase{Name: "default"}

// NProcessCase is the default recovery split over worker processes.
var NProcessCase = TestCase{
	Name: "nprocess",
	Prepare: func(ctx context.Context, s *Scenario, opts *CommandOptions) error {
		opts.NProcess = s.Env.Options.NProcess
		return nil
	},
}

// splitForDumpFile keeps InconsistentFilesPercentage of the outage keys
// unrecovered and returns the ones to list in the dump file.
func splitForDumpFile(s *Scenario) []string {
	recovered, inconsistent := Split(s.Ledger.Recovered, s.Env.Options.InconsistentFilesPercentage)
	s.Ledger.Recovered = recovered
	s.Ledger.Inconsistent = inconsistent
	s.Ledger.RecoverIndexes = false
	return recovered.Keys()
}

// DumpFileCase recovers only the keys listed in a dump file.
var DumpFileCase = TestCase{
	Name: "dump_file",
	Prepare: func(ctx context.Context, s *Scenario, opts *CommandOptions) error {
		path := s.dumpFilePath()
		if err := DumpToFile(path, splitForDumpFile(s)); err != nil {
			return err
		}
		opts.DumpFile = path
		return nil
	},
}

// DumpFileNegativeCase adds ids of keys that were never written to the dump file.
var DumpFileNegativeCase = TestCase{
	Name: "dump_file_negative",
	Prepare: func(ctx context.Context, s *Scenario, opts *CommandOptions) error {
		keys := splitForDumpFile(s)
		n := int(math.Ceil(float64(len(keys)) * s.Env.Options.NotExistentPercentage))
		if n == 0 {
			n = 1
		}
		keys = append(keys, NotExistentKeys(s.Env.Rand, n)...)
		path := s.dumpFilePath()
		if err := DumpToFile(path, keys); err != nil {
			return err
		}
		opts.DumpFile = path
		return nil
	},
}

// OneNodeCase recovers only the keys owned by one node: a node of an
// available group for dc, one of the dropped nodes for merge.
var OneNodeCase = TestCase{
	Name: "one_node",
	Prepare: func(ctx context.Context, s *Scenario, opts *CommandOptions) error {
		var candidates []elliptics.Node
		switch o := s.Ledger.Outage.(type) {
		case *NodeOutage:
			candidates = o.Dropped
		default:
			for _, n := range elliptics.NodesInGroups(s.Env.Nodes, opts.Groups) {
				if !o.Affects(n.Group) {
					candidates = append(candidates, n)
				}
			}
		}
		picked := common.RandomNodes(s.Env.Rand, candidates, 1)
		if len(picked) == 0 {
			return errors.Newf("no node to recover for outage %s", s.Ledger.Outage)
		}
		node := picked[0]

		owned, rest, err := KeysForNode(ctx, s.Env.Session, s.Env.Resolver, s.Ledger.Recovered, node)
		if err != nil {
			return err
		}
		s.Ledger.Recovered = owned
		s.Ledger.Inconsistent = rest
		s.Ledger.RecoverIndexes = false
		opts.OneNode = &node
		return nil
	},
}

// DCTestCases run with whole groups dropped.
var DCTestCases = []TestCase{DefaultCase, NProcessCase, DumpFileCase, OneNodeCase}

// MergeTestCases run with nodes of a group disabled.
var MergeTestCases = []TestCase{DefaultCase, NProcessCase, DumpFileCase, DumpFileNegativeCase, OneNodeCase}
