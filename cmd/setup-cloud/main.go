// Command setup-cloud boots the instances the selected tests need and
// installs elliptics on them.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kis8ya/elliptics-qa/ansible"
	"github.com/kis8ya/elliptics-qa/branch"
	"github.com/kis8ya/elliptics-qa/cloud"
	"github.com/kis8ya/elliptics-qa/common/reporter"
	"github.com/kis8ya/elliptics-qa/provision"
	"github.com/kis8ya/elliptics-qa/testcfg"
)

const (
	pollInterval = 10 * time.Second
	bootTimeout  = 15 * time.Minute
)

type options struct {
	configsDir      string
	testsuiteParams string
	tags            []string
	instanceName    string
	domain          string
	ansibleDir      string
	imageName       string
	verbose         bool
	teamcity        bool
}

// newSetup collects the tests under the configs dir and sizes the bench for them.
func newSetup(o options, compute cloud.Compute, order cloud.FlavorOrder) (*provision.Setup, cloud.InstancesParams, error) {
	params, err := provision.LoadSuiteParams(o.testsuiteParams)
	if err != nil {
		return nil, cloud.InstancesParams{}, err
	}
	bench := testcfg.Bench{Names: cloud.NewNames(o.instanceName), Domain: o.domain}
	tests, err := testcfg.Collect(o.configsDir, o.tags, bench)
	if err != nil {
		return nil, cloud.InstancesParams{}, errors.Wrap(err, "collect tests")
	}
	if len(tests) == 0 {
		return nil, cloud.InstancesParams{}, errors.Newf("no tests tagged %v under %s", o.tags, o.configsDir)
	}
	ip, err := testcfg.InstancesParams(tests, order, o.imageName)
	if err != nil {
		return nil, ip, err
	}
	s := &provision.Setup{
		Tests:       tests,
		Bench:       bench,
		Ansible:     &ansible.Dir{Path: o.ansibleDir, Runner: ansible.ExecRunner(os.Stdout)},
		Provisioner: &cloud.Provisioner{Compute: compute, PollInterval: pollInterval, BootTimeout: bootTimeout},
		Params:      params,
	}
	return s, ip, nil
}

func run(ctx context.Context, o options) error {
	stack, err := cloud.NewOpenStack()
	if err != nil {
		return err
	}
	flavors, err := stack.Flavors(ctx)
	if err != nil {
		return err
	}
	s, ip, err := newSetup(o, stack, cloud.NewFlavorOrder(flavors))
	if err != nil {
		return err
	}
	return reporter.Block(os.Stdout, o.teamcity, "PREPARE TEST ENVIRONMENT", func() error {
		return s.Environment(ctx, ip, nil)
	})
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "setup-cloud",
		Short:        "Prepare cloud instances for elliptics tests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logf.SetLogger(zap.New(zap.UseDevMode(o.verbose), zap.WriteTo(os.Stderr)))
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.configsDir, "configs-dir", "", "directory with tests' configs")
	f.StringVar(&o.testsuiteParams, "testsuite-params", "", "path to file with parameters overriding the test configs")
	f.StringArrayVar(&o.tags, "tag", nil, "run tests carrying the tag, repeatable")
	f.StringVar(&o.instanceName, "instance-name", "elliptics", "base name for the instances")
	f.StringVar(&o.domain, "domain", "", "domain of the instances")
	f.StringVar(&o.ansibleDir, "ansible-dir", "ansible", "directory with playbooks")
	f.StringVar(&o.imageName, "image", branch.Image("testing"), "image of the instances")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "increase verbosity")
	f.BoolVar(&o.teamcity, "teamcity", false, "format output with TeamCity messages")
	_ = cmd.MarkFlagRequired("configs-dir")
	return cmd
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
