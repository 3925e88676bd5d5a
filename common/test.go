package common

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kis8ya/elliptics-qa/common/e2e_config"
	"github.com/kis8ya/elliptics-qa/common/loki"
	"github.com/kis8ya/elliptics-qa/common/network"
	"github.com/kis8ya/elliptics-qa/common/reporter"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/drivers"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

type TestEnvironment struct {
	Nodes    []elliptics.Node
	Session  elliptics.Session
	Bench    network.Bench
	Resolver *network.Resolver
	ssh      *network.SSH
}

var gTestEnv TestEnvironment

// Initialise testing and setup class name + report filename.
func InitTesting(t *testing.T, classname string, reportname string) {
	RegisterFailHandler(Fail)
	RunSpecsWithDefaultAndCustomReporters(t, classname, reporter.GetReporters(reportname))
	loki.SendLokiMarker("Start of test " + classname)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ClientConfig is the driver configuration derived from the e2e configuration.
func ClientConfig() elliptics.Config {
	cfg := e2e_config.GetConfig()
	return elliptics.Config{
		WaitTimeout:  secs(cfg.Client.WaitTimeout),
		CheckTimeout: secs(cfg.Client.CheckTimeout),
		LogFile:      cfg.Client.LogFile,
		LogLevel:     cfg.Client.LogLevel,
		Backends:     cfg.Client.Backends,
	}
}

func newBench(nodes []elliptics.Node) (network.Bench, *network.SSH, error) {
	cfg := e2e_config.GetConfig()
	if cfg.Client.Driver == ellipticstest.DriverName {
		return ellipticstest.Shared(nodes, cfg.Client.Backends), nil, nil
	}
	runner, err := network.NewSSH(network.SSHConfig{
		User:           cfg.SSH.User,
		Port:           cfg.SSH.Port,
		IdentityFile:   cfg.SSH.IdentityFile,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		Timeout:        secs(cfg.SSH.Timeout),
	})
	if err != nil {
		return nil, nil, err
	}
	return &network.SSHBench{
		Runner:         runner,
		Interface:      cfg.Bench.Interface,
		HistoryPath:    cfg.Bench.HistoryPath,
		BackendsNumber: cfg.Client.Backends,
	}, runner, nil
}

// Connect opens a session to nodes with the given client configuration.
func Connect(nodes []elliptics.Node, clientCfg elliptics.Config) (elliptics.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), clientCfg.WaitTimeout+time.Second)
	defer cancel()
	return elliptics.Dial(ctx, e2e_config.GetConfig().Client.Driver, nodes, clientCfg)
}

func SetupTestEnv() {
	logf.SetLogger(zap.New(zap.UseDevMode(true), zap.WriteTo(GinkgoWriter)))
	By("connecting to the storage bench")
	cfg := e2e_config.GetConfig()
	Expect(drivers.Check(cfg.Client.Driver)).To(Succeed())

	nodes, err := elliptics.ParseNodes(cfg.Nodes)
	Expect(err).ToNot(HaveOccurred())
	Expect(nodes).ToNot(BeEmpty(), "no nodes configured")

	session, err := Connect(nodes, ClientConfig())
	Expect(err).ToNot(HaveOccurred())

	bench, sshRunner, err := newBench(nodes)
	Expect(err).ToNot(HaveOccurred())

	gTestEnv = TestEnvironment{
		Nodes:    nodes,
		Session:  session,
		Bench:    bench,
		Resolver: network.NewResolver(10 * time.Minute),
		ssh:      sshRunner,
	}
	logf.Log.Info("Bench", "driver", cfg.Client.Driver, "nodes", len(nodes), "groups", elliptics.Groups(nodes))
}

func TeardownTestEnvNoCleanup() {
	var err error
	if gTestEnv.Session != nil {
		err = gTestEnv.Session.Close()
	}
	if gTestEnv.ssh != nil {
		err = errors.CombineErrors(err, gTestEnv.ssh.Close())
	}
	Expect(err).ToNot(HaveOccurred())
}

func TeardownTestEnv() {
	AfterSuiteCleanup()
	TeardownTestEnvNoCleanup()
}

// Brings the bench back to its initial state: every dropped node resumed,
// every backend enabled.
func AfterSuiteCleanup() {
	logf.Log.Info("AfterSuiteCleanup")
	if gTestEnv.Session == nil {
		return
	}
	ctx := context.Background()
	if err := ResumeAllNodes(ctx); err != nil {
		logf.Log.Info("AfterSuiteCleanup: resume nodes failed", "error", err)
	}
	if err := EnableAllBackends(ctx, gTestEnv.Session, gTestEnv.Nodes); err != nil {
		logf.Log.Info("AfterSuiteCleanup: enable backends failed", "error", err)
	}
}

func GetSession() elliptics.Session {
	return gTestEnv.Session
}

func GetNodes() []elliptics.Node {
	return append([]elliptics.Node(nil), gTestEnv.Nodes...)
}

func GetBench() network.Bench {
	return gTestEnv.Bench
}

func GetResolver() *network.Resolver {
	return gTestEnv.Resolver
}

// Fit for purpose checks
// - No nodes left dropped
// - Every node is present in the routing table of its own group
func ResourceCheck() error {
	var errorMsg = ""

	if dropped := DroppedNodes(); len(dropped) != 0 {
		errorMsg += fmt.Sprintf(" found dropped nodes %v", dropped)
	}

	routes := gTestEnv.Session.Routes()
	for _, node := range gTestEnv.Nodes {
		addr, err := gTestEnv.Resolver.Address(node)
		if err != nil {
			errorMsg += fmt.Sprintf(" %v", err)
			continue
		}
		if !routes.HasAddress(addr) {
			errorMsg += fmt.Sprintf(" node %s is missing from the routing table", node)
			continue
		}
		for _, r := range routes {
			if r.Address == addr && r.Group != node.Group {
				errorMsg += fmt.Sprintf(" node %s is routed in group %d", node, r.Group)
				break
			}
		}
	}

	if len(errorMsg) != 0 {
		return errors.New(errorMsg)
	}
	return nil
}

// The before and after each check are very similar, however functionally
//	BeforeEachCheck asserts that the bench is fit for the test to run
//  AfterEachCheck asserts that the state of the bench has been restored.
func BeforeEachCheck() error {
	logf.Log.Info("BeforeEachCheck")
	err := ResourceCheck()
	if err != nil {
		logf.Log.Info("BeforeEachCheck failed", "error", err)
	}
	return err
}

func AfterEachCheck() error {
	logf.Log.Info("AfterEachCheck")
	err := ResourceCheck()
	if err != nil {
		logf.Log.Info("AfterEachCheck failed", "error", err)
	}
	return err
}
