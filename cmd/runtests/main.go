// Command runtests prepares the bench for a branch of elliptics and runs the
// selected test suites on it one after another.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kis8ya/elliptics-qa/ansible"
	"github.com/kis8ya/elliptics-qa/branch"
	"github.com/kis8ya/elliptics-qa/cloud"
	"github.com/kis8ya/elliptics-qa/common/e2e_config"
	"github.com/kis8ya/elliptics-qa/common/reporter"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/drivers"
	"github.com/kis8ya/elliptics-qa/provision"
	"github.com/kis8ya/elliptics-qa/testcfg"
)

type options struct {
	branch          string
	testsuiteParams string
	packagesDir     string
	tags            []string
	testsDir        string
	ansibleDir      string
	domain          string
	e2eConfig       string
	goTags          string
	verbose         bool
	teamcity        bool
}

// configTemplate of the elliptics server config for a distribution.
func configTemplate(distribution string) string {
	format := "json"
	if distribution == "stable" {
		format = "conf"
	}
	return fmt.Sprintf("templates/elliptics.%s.j2", format)
}

// testVars shared by all tests of a run.
func testVars(distribution, packagesDir string) ansible.Vars {
	vars := ansible.Vars{"elliptics_config": configTemplate(distribution)}
	if packagesDir != "" {
		vars["packages_dir"] = packagesDir
	}
	return vars
}

// checkDriver fails when the client driver of the e2e configuration is not
// linked into this build, so no suite is started against a bench it cannot
// reach.
func checkDriver(e2eConfig string) error {
	cfg, err := e2e_config.Load(e2e_config.ConfigFile(e2eConfig))
	if err != nil {
		return errors.Wrapf(err, "read e2e config %s", e2eConfig)
	}
	return errors.Wrapf(drivers.Check(cfg.Client.Driver), "e2e config %s", e2eConfig)
}

// goTestCommand runs the suites of a test against its nodes.
func goTestCommand(ctx context.Context, o options, cfg *testcfg.Config, nodes []elliptics.Node) *exec.Cmd {
	args := []string{"test", "-v", "-count=1"}
	if o.goTags != "" {
		args = append(args, "-tags", o.goTags)
	}
	args = append(args, "./"+filepath.ToSlash(filepath.Clean(cfg.Dir))+"/...")
	if opts := strings.Fields(cfg.Addopts); len(opts) != 0 {
		args = append(args, "-args")
		args = append(args, opts...)
	}
	remotes := make([]string, 0, len(nodes))
	for _, n := range nodes {
		remotes = append(remotes, n.String())
	}
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = o.testsDir
	cmd.Env = append(os.Environ(),
		"e2e_nodes="+strings.Join(remotes, ","),
		"e2e_config_file="+o.e2eConfig,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func runTest(ctx context.Context, s *provision.Setup, o options, name string) error {
	nodes, err := s.StartTest(ctx, name)
	if err != nil {
		return err
	}
	logf.Log.Info("Running test", "name", name, "nodes", len(nodes))
	cmd := goTestCommand(ctx, o, s.Tests[name], nodes)
	runErr := errors.Wrapf(cmd.Run(), "test %s", name)
	return errors.CombineErrors(runErr, s.StopTest(ctx, name))
}

func run(ctx context.Context, o options) error {
	if err := checkDriver(o.e2eConfig); err != nil {
		return err
	}
	target, err := branch.NewResolver(os.Getenv("GITHUB_TOKEN")).Target(ctx, o.branch)
	if err != nil {
		return err
	}
	distribution, err := branch.Distribution(target)
	if err != nil {
		return err
	}
	params, err := provision.ParseSuiteParams([]byte(o.testsuiteParams))
	if err != nil {
		return err
	}
	repoDir, err := filepath.Abs(o.testsDir)
	if err != nil {
		return err
	}

	stack, err := cloud.NewOpenStack()
	if err != nil {
		return err
	}
	flavors, err := stack.Flavors(ctx)
	if err != nil {
		return err
	}
	bench := testcfg.Bench{Names: cloud.NewNames("elliptics-" + distribution), Domain: o.domain}
	tests, err := testcfg.Collect(o.testsDir, o.tags, bench)
	if err != nil {
		return errors.Wrap(err, "collect tests")
	}
	ip, err := testcfg.InstancesParams(tests, cloud.NewFlavorOrder(flavors), branch.Image(distribution))
	if err != nil {
		return err
	}
	s := &provision.Setup{
		Tests:       tests,
		Bench:       bench,
		Ansible:     &ansible.Dir{Path: o.ansibleDir, Runner: ansible.ExecRunner(os.Stdout)},
		Provisioner: &cloud.Provisioner{Compute: stack, PollInterval: 10 * time.Second, BootTimeout: 15 * time.Minute},
		Params:      params,
		VarsFormat:  "yml",
	}
	if err := s.UpdateTestVars(testVars(distribution, o.packagesDir)); err != nil {
		return err
	}
	err = reporter.Block(os.Stdout, o.teamcity, "PREPARE TEST ENVIRONMENT", func() error {
		return s.Environment(ctx, ip, ansible.Vars{"repo_dir": repoDir})
	})
	if err != nil {
		return err
	}

	var failed []string
	for _, name := range s.Names() {
		err := reporter.Block(os.Stdout, o.teamcity, "TEST "+name, func() error {
			return runTest(ctx, s, o, name)
		})
		if err != nil {
			logf.Log.Error(err, "Test failed", "name", name)
			failed = append(failed, name)
		}
	}
	if len(failed) != 0 {
		return errors.Newf("failed tests: %s", strings.Join(failed, ", "))
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "runtests",
		Short:        "Prepare the bench and run elliptics test suites",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logf.SetLogger(zap.New(zap.UseDevMode(o.verbose), zap.WriteTo(os.Stderr)))
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.branch, "branch", "master", "elliptics branch: master, lts or pull/N/merge")
	f.StringVar(&o.testsuiteParams, "testsuite-params", "{}", "JSON parameters overriding the test configs")
	f.StringVar(&o.packagesDir, "packages-dir", "", "directory with elliptics packages to install")
	f.StringArrayVar(&o.tags, "tag", nil, "run tests carrying the tag, repeatable")
	f.StringVar(&o.testsDir, "tests-dir", ".", "directory with test configs and suites")
	f.StringVar(&o.ansibleDir, "ansible-dir", "ansible", "directory with playbooks")
	f.StringVar(&o.domain, "domain", "", "domain of the instances")
	f.StringVar(&o.e2eConfig, "e2e-config", "bench_e2e_config.yaml", "configuration the suites read")
	f.StringVar(&o.goTags, "go-tags", "", "build tags of the suites, "+drivers.BindingsTag+" links the client bindings")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "increase verbosity")
	f.BoolVar(&o.teamcity, "teamcity", false, "format output with TeamCity messages")
	return cmd
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
