package recovery_lib

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Options size the data of a scenario.
type Options struct {
	ConsistentFilesNumber       int
	InconsistentFilesNumber     int
	InconsistentFilesPercentage float64
	NotExistentPercentage       float64
	FileSize                    int
	IndexesNumber               int
	// DroppedGroupsNumber 0 drops half of the groups, rounded up
	DroppedGroupsNumber int
	NProcess            int
	CacheSyncTimeout    time.Duration
	// Persisted buckets, loaded when the file exists and saved otherwise
	ConsistentKeysFile   string
	InconsistentKeysFile string
	DroppedGroupsFile    string
}

// Env is what scenarios run against.
type Env struct {
	// Session bound to the groups under test
	Session  elliptics.Session
	Nodes    []elliptics.Node
	Resolver AddressResolver
	Backends BackendLister
	Writer   *KeyWriter
	Rand     *rand.Rand
	Options  Options
	Tool     string
	// Directory for dump files
	WorkDir string
}

// State of a scenario run.
type State int

const (
	StateNew State = iota
	StateSetUp
	StateRecovered
	StateVerified
	StateTornDown
)

func (s State) String() string {
	return [...]string{"new", "set up", "recovered", "verified", "torn down"}[s]
}

// Scenario is one recovery run: keys written around an outage, the tool
// run, and the ledger checked against the cluster.
type Scenario struct {
	Name    string
	Mode    Mode
	Case    TestCase
	Env     *Env
	Ledger  Ledger
	Command []string
	Result  Result

	state    State
	restores []func(context.Context) error
	cleanups []string
}

func NewScenario(env *Env, mode Mode, tc TestCase) *Scenario {
	return &Scenario{Name: fmt.Sprintf("%s_%s", mode, tc.Name), Mode: mode, Case: tc, Env: env}
}

func (s *Scenario) State() State {
	return s.state
}

func (s *Scenario) expect(states ...State) error {
	for _, st := range states {
		if s.state == st {
			return nil
		}
	}
	return errors.Newf("scenario %s is %s, want %v", s.Name, s.state, states)
}

func (s *Scenario) chooseOutage() (Outage, error) {
	env := s.Env
	groups := env.Session.Groups()
	switch s.Mode {
	case ModeDC:
		if path := env.Options.DroppedGroupsFile; path != "" && fileExists(path) {
			dropped, err := LoadGroups(path)
			if err != nil {
				return nil, err
			}
			return &GroupOutage{Dropped: dropped}, nil
		}
		n := env.Options.DroppedGroupsNumber
		if n <= 0 {
			n = common.Half(len(groups))
		}
		if n >= len(groups) {
			return nil, errors.Newf("cannot drop %d of groups %v and keep one available", n, groups)
		}
		dropped := common.RandomGroups(env.Rand, groups, n)
		if path := env.Options.DroppedGroupsFile; path != "" {
			if err := SaveGroups(path, dropped); err != nil {
				return nil, err
			}
		}
		return &GroupOutage{Dropped: dropped}, nil
	case ModeMerge:
		candidates := elliptics.NodesInGroups(env.Nodes, groups)
		if len(candidates) < 2 {
			return nil, errors.Newf("merge needs two nodes in groups %v", groups)
		}
		n := common.Half(len(candidates))
		if n == len(candidates) {
			n--
		}
		return &NodeOutage{
			Dropped:  common.RandomNodes(env.Rand, candidates, n),
			Resolver: env.Resolver,
			Backends: env.Backends,
		}, nil
	}
	return nil, errors.Newf("unknown mode %q", s.Mode)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type writeFunc func() (KeySet, error)

func persisted(path string, write writeFunc) (KeySet, error) {
	if path != "" && fileExists(path) {
		logf.Log.Info("Loading keys", "file", path)
		return LoadKeySet(path)
	}
	keys, err := write()
	if err != nil || path == "" {
		return keys, err
	}
	return keys, SaveKeySet(path, keys)
}

// Setup writes the consistent keys, the outage keys and lets the test case
// shape the ledger and the command.
func (s *Scenario) Setup(ctx context.Context) error {
	if err := s.expect(StateNew); err != nil {
		return err
	}
	env := s.Env
	opts := env.Options

	outage, err := s.chooseOutage()
	if err != nil {
		return err
	}
	logf.Log.Info("Scenario setup", "scenario", s.Name, "outage", outage.String())
	pool, err := RandomIndexes(env.Rand, opts.IndexesNumber)
	if err != nil {
		return err
	}

	consistent, err := persisted(opts.ConsistentKeysFile, func() (KeySet, error) {
		return WriteConsistentKeys(ctx, env.Writer, env.Session, opts.ConsistentFilesNumber, opts.FileSize, pool)
	})
	if err != nil {
		return errors.Wrap(err, "consistent keys")
	}
	inconsistent, err := persisted(opts.InconsistentKeysFile, func() (KeySet, error) {
		return WriteInconsistentKeys(ctx, env.Writer, env.Session, opts.InconsistentFilesNumber, opts.FileSize, pool, outage)
	})
	if err != nil {
		return errors.Wrap(err, "inconsistent keys")
	}
	if o, ok := outage.(*NodeOutage); ok {
		s.restores = append(s.restores, func(ctx context.Context) error {
			return EnableNodes(ctx, env.Session, o)
		})
	}

	s.Ledger = Ledger{
		Consistent:     consistent,
		Recovered:      inconsistent,
		Outage:         outage,
		RecoverIndexes: true,
	}
	cmdOpts := CommandOptions{
		Tool:   env.Tool,
		Mode:   s.Mode,
		Groups: env.Session.Groups(),
	}
	remote := common.RandomNodes(env.Rand, elliptics.NodesInGroups(env.Nodes, cmdOpts.Groups), 1)
	if len(remote) == 0 {
		return errors.Newf("no nodes in groups %v", cmdOpts.Groups)
	}
	cmdOpts.Remote = &remote[0]

	if s.Case.Prepare != nil {
		if err := s.Case.Prepare(ctx, s, &cmdOpts); err != nil {
			return errors.Wrapf(err, "prepare %s", s.Name)
		}
	}
	if err := s.Ledger.Validate(); err != nil {
		return err
	}
	if s.Command, err = RecoveryCommand(cmdOpts); err != nil {
		return err
	}
	logf.Log.Info("Scenario ready", "scenario", s.Name,
		"consistent", s.Ledger.Consistent.Len(), "recovered", s.Ledger.Recovered.Len(),
		"inconsistent", s.Ledger.Inconsistent.Len(), "recoverIndexes", s.Ledger.RecoverIndexes)
	s.state = StateSetUp
	return nil
}

// dumpFilePath returns a fresh dump file path removed on teardown.
func (s *Scenario) dumpFilePath() string {
	path := filepath.Join(s.Env.WorkDir, fmt.Sprintf("%s-%s.dump", s.Name, uuid.NewString()))
	s.cleanups = append(s.cleanups, path)
	return path
}

// Recover runs the tool once caches had time to sync.
func (s *Scenario) Recover(ctx context.Context, runner Runner) error {
	if err := s.expect(StateSetUp); err != nil {
		return err
	}
	if d := s.Env.Options.CacheSyncTimeout; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	res, err := runner.Run(ctx, s.Command)
	if err != nil {
		return errors.Wrapf(err, "run %v", s.Command)
	}
	s.Result = res
	s.state = StateRecovered
	return nil
}

func (s *Scenario) checkable() error {
	return s.expect(StateRecovered, StateVerified)
}

func (s *Scenario) CheckExitCode() error {
	if err := s.checkable(); err != nil {
		return err
	}
	if s.Result.TimedOut {
		return errors.Newf("%v timed out after %s", s.Command, s.Result.Elapsed)
	}
	if s.Result.ExitCode != 0 {
		return errors.Newf("%v exited with %d", s.Command, s.Result.ExitCode)
	}
	return nil
}

func (s *Scenario) groups() (affected, unaffected []int) {
	for _, g := range s.Env.Session.Groups() {
		if s.Ledger.Outage.Affects(g) {
			affected = append(affected, g)
		} else {
			unaffected = append(unaffected, g)
		}
	}
	return affected, unaffected
}

func (s *Scenario) CheckConsistentKeys(ctx context.Context) error {
	if err := s.checkable(); err != nil {
		return err
	}
	return AssertGroupVisible(ctx, s.Env.Session, s.Ledger.Consistent.Keys(), s.Env.Session.Groups())
}

func (s *Scenario) CheckRecoveredKeys(ctx context.Context) error {
	if err := s.checkable(); err != nil {
		return err
	}
	return AssertGroupVisible(ctx, s.Env.Session, s.Ledger.Recovered.Keys(), s.Env.Session.Groups())
}

// CheckInconsistentKeys expects the keys where the outage did not reach,
// not found where it did, and readable again once the outage is reapplied.
func (s *Scenario) CheckInconsistentKeys(ctx context.Context) (err error) {
	if err := s.checkable(); err != nil {
		return err
	}
	keys := s.Ledger.Inconsistent.Keys()
	if len(keys) == 0 {
		return nil
	}
	affected, unaffected := s.groups()
	if err := AssertGroupVisible(ctx, s.Env.Session, keys, unaffected); err != nil {
		return err
	}
	if err := AssertGroupInvisible(ctx, s.Env.Session, keys, affected); err != nil {
		return err
	}
	restricted, restore, err := s.Ledger.Outage.Apply(ctx, s.Env.Session)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, restore(ctx))
	}()
	return AssertVisible(ctx, restricted, keys)
}

func (s *Scenario) CheckIndexes(ctx context.Context) error {
	if err := s.checkable(); err != nil {
		return err
	}
	for _, index := range s.Ledger.Indexes() {
		for _, g := range s.Env.Session.Groups() {
			if err := AssertIndexMembership(ctx, s.Env.Session, &s.Ledger, index, g); err != nil {
				return err
			}
			if err := AssertKeyIndexData(ctx, s.Env.Session, &s.Ledger, index, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// Verify runs every check and returns the first failure.
func (s *Scenario) Verify(ctx context.Context) error {
	if err := s.checkable(); err != nil {
		return err
	}
	checks := []func() error{
		s.CheckExitCode,
		func() error { return s.CheckConsistentKeys(ctx) },
		func() error { return s.CheckRecoveredKeys(ctx) },
		func() error { return s.CheckInconsistentKeys(ctx) },
		func() error { return s.CheckIndexes(ctx) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	s.state = StateVerified
	return nil
}

// Teardown undoes the outage and removes scenario files. It runs every
// step whatever failed before and is a no-op when repeated.
func (s *Scenario) Teardown(ctx context.Context) error {
	if s.state == StateTornDown {
		return nil
	}
	var err error
	for i := len(s.restores) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, s.restores[i](ctx))
	}
	for _, path := range s.cleanups {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			err = errors.CombineErrors(err, rerr)
		}
	}
	s.restores, s.cleanups = nil, nil
	s.state = StateTornDown
	return err
}

// EnableNodes enables every backend of the outage nodes.
func EnableNodes(ctx context.Context, session elliptics.Session, o *NodeOutage) error {
	var err error
	for _, n := range o.Dropped {
		addr, rerr := o.Resolver.Address(n)
		if rerr != nil {
			err = errors.CombineErrors(err, rerr)
			continue
		}
		backends, berr := o.Backends.Backends(ctx, n)
		if berr != nil {
			err = errors.CombineErrors(err, berr)
			continue
		}
		for _, b := range backends {
			err = errors.CombineErrors(err, session.EnableBackend(ctx, addr, b))
		}
	}
	return err
}

// Current is the scenario of the running case, torn down after the case
// however the case ended.
type Current struct {
	s *Scenario
}

// Start makes s the running scenario.
func (c *Current) Start(s *Scenario) *Scenario {
	c.s = s
	return s
}

// Teardown tears the running scenario down and forgets it. It is a no-op
// without one.
func (c *Current) Teardown(ctx context.Context) error {
	if c.s == nil {
		return nil
	}
	s := c.s
	c.s = nil
	return s.Teardown(ctx)
}
