package recovery_lib

import (
	"io/ioutil"
	"time"

	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/common/network"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"
)

// threeGroups is a 3x3 bench on loopback.
func threeGroups() []elliptics.Node {
	var nodes []elliptics.Node
	port := 3025
	for g := 1; g <= 3; g++ {
		for i := 0; i < 3; i++ {
			nodes = append(nodes, elliptics.Node{Host: "127.0.0.1", Port: port, Group: g})
			port++
		}
	}
	return nodes
}

func defaultOptions() Options {
	return Options{
		ConsistentFilesNumber:       20,
		InconsistentFilesNumber:     5,
		InconsistentFilesPercentage: 0.6,
		NotExistentPercentage:       0.33,
		FileSize:                    1024,
		IndexesNumber:               5,
		DroppedGroupsNumber:         1,
		NProcess:                    3,
	}
}

type testBench struct {
	cluster *ellipticstest.Cluster
	env     *Env
	workDir string
}

// newTestBench builds an env over a fresh cluster with the session bound to groups.
func newTestBench(seed int64, groups []int) *testBench {
	nodes := threeGroups()
	cluster := ellipticstest.NewCluster(nodes, 2)
	session := cluster.Session()
	if groups != nil {
		session.SetGroups(groups)
	}
	dir, err := ioutil.TempDir("", "recovery-lib")
	Expect(err).ToNot(HaveOccurred())
	rng := common.NewRand(seed)
	return &testBench{
		cluster: cluster,
		workDir: dir,
		env: &Env{
			Session:  session,
			Nodes:    nodes,
			Resolver: network.NewResolver(time.Minute),
			Backends: cluster,
			Writer:   &KeyWriter{Rand: rng, MinSize: 1, MaxSize: 4096, Concurrency: 4},
			Rand:     rng,
			Options:  defaultOptions(),
			Tool:     "dnet_recovery",
			WorkDir:  dir,
		},
	}
}

func (b *testBench) runner() Runner {
	return ClusterRunner(b.cluster, ioutil.Discard)
}
