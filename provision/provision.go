// Package provision prepares the bench for a set of tests: instances,
// ansible inventories and vars, packages, and the storage processes of
// each test.
package provision

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"sort"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/ansible"
	"github.com/kis8ya/elliptics-qa/cloud"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/testcfg"
)

const (
	// GlobalParams is the params section applied to every test.
	GlobalParams = "_global"

	prepareEnvPlaybook = "test-env-prepare"
	startPlaybook      = "elliptics-start"
	stopPlaybook       = "elliptics-stop"
	setupGroups        = "setup"
	testVarsGroup      = "test"
	clientsVarsGroup   = "clients"
)

// SuiteParams override test params by test name, plus GlobalParams.
type SuiteParams map[string]ansible.Vars

func ParseSuiteParams(b []byte) (SuiteParams, error) {
	p := SuiteParams{}
	if len(b) == 0 {
		return p, nil
	}
	err := json.Unmarshal(b, &p)
	return p, errors.Wrap(err, "parse testsuite params")
}

func LoadSuiteParams(path string) (SuiteParams, error) {
	if path == "" {
		return SuiteParams{}, nil
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read testsuite params")
	}
	return ParseSuiteParams(b)
}

// Setup drives the preparation of the bench.
type Setup struct {
	Tests       map[string]*testcfg.Config
	Bench       testcfg.Bench
	Ansible     *ansible.Dir
	Provisioner *cloud.Provisioner
	Params      SuiteParams
	// VarsFormat is the group vars file extension, json or yml
	VarsFormat string
}

func (s *Setup) varsPath(group string) string {
	ext := s.VarsFormat
	if ext == "" {
		ext = "json"
	}
	return s.Ansible.VarsPath(group, ext)
}

// UpdateTestVars merges params into the vars shared by all tests.
func (s *Setup) UpdateTestVars(params ansible.Vars) error {
	return ansible.UpdateVars(s.varsPath(testVarsGroup), params)
}

// Names of the tests, sorted.
func (s *Setup) Names() []string {
	names := make([]string, 0, len(s.Tests))
	for n := range s.Tests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Setup) inventory(name string, clients int, serversPerGroup []int) ansible.Inventory {
	return ansible.NewInventory(ansible.Groups(name), clients, serversPerGroup, s.Bench.Names.Client, s.Bench.Names.Server, s.Bench.Domain)
}

// PrepareAnsibleFiles writes the inventory and the vars of every test.
// Suite params override the params of the test configs.
func (s *Setup) PrepareAnsibleFiles() error {
	if global := s.Params[GlobalParams]; len(global) != 0 {
		if err := s.UpdateTestVars(global); err != nil {
			return err
		}
	}
	for _, name := range s.Names() {
		cfg := s.Tests[name]
		groups := ansible.Groups(name)
		inv := s.inventory(name, cfg.Env.Clients.Count, cfg.Env.Servers.CountPerGroup)
		if err := inv.Write(s.Ansible.InventoryPath(name)); err != nil {
			return err
		}
		params := ansible.Vars{}
		for k, v := range cfg.Params {
			params[k] = v
		}
		for k, v := range s.Params[name] {
			params[k] = v
		}
		if err := ansible.SetVars(s.varsPath(groups.Test), params); err != nil {
			return err
		}
	}
	return nil
}

// InstallPackages runs the package installation playbook on every instance.
func (s *Setup) InstallPackages(ctx context.Context, p cloud.InstancesParams, clientsVars ansible.Vars) error {
	inv := s.inventory(setupGroups, p.Clients.Count, []int{p.Servers.Count})
	path := s.Ansible.InventoryPath(prepareEnvPlaybook)
	if err := inv.Write(path); err != nil {
		return err
	}
	if len(clientsVars) != 0 {
		if err := ansible.UpdateVars(s.varsPath(clientsVarsGroup), clientsVars); err != nil {
			return err
		}
	}
	return s.Ansible.RunPlaybook(ctx, s.Ansible.Abs(prepareEnvPlaybook), path)
}

// Environment boots the instances, then writes the ansible files and
// installs the packages.
func (s *Setup) Environment(ctx context.Context, p cloud.InstancesParams, clientsVars ansible.Vars) error {
	logf.Log.Info("Preparing test environment", "tests", s.Names(), "clients", p.Clients, "servers", p.Servers)
	if err := s.Provisioner.Create(ctx, cloud.Specs(p, s.Bench.Names)); err != nil {
		return err
	}
	if err := s.PrepareAnsibleFiles(); err != nil {
		return err
	}
	return s.InstallPackages(ctx, p, clientsVars)
}

// StartTest prepares the environment of a test if it asks for it and
// starts the storage processes. It returns the nodes of the test.
func (s *Setup) StartTest(ctx context.Context, name string) ([]elliptics.Node, error) {
	cfg, ok := s.Tests[name]
	if !ok {
		return nil, errors.Newf("unknown test %s", name)
	}
	inv := s.Ansible.InventoryPath(name)
	if cfg.Env.PrepareEnv != "" {
		if err := s.Ansible.RunPlaybook(ctx, s.Ansible.Abs(cfg.Env.PrepareEnv), inv); err != nil {
			return nil, err
		}
	}
	if err := s.Ansible.RunPlaybook(ctx, s.Ansible.Abs(startPlaybook), inv); err != nil {
		return nil, err
	}
	return s.Bench.Servers(cfg.Env.Servers.CountPerGroup), nil
}

func (s *Setup) StopTest(ctx context.Context, name string) error {
	return s.Ansible.RunPlaybook(ctx, s.Ansible.Abs(stopPlaybook), s.Ansible.InventoryPath(name))
}
