package e2e_config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"runtime"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v2"
)

// E2EConfig is a application configuration structure
type E2EConfig struct {
	// Storage nodes of the bench as host:port:group
	Nodes  []string `yaml:"nodes" env:"e2e_nodes" env-separator:","`
	Client struct {
		// Name of a registered client driver, "memory" runs against an in-process cluster
		Driver string `yaml:"driver" env:"e2e_client_driver" env-default:"memory"`
		// WaitTimeout and CheckTimeout units are seconds
		WaitTimeout  int    `yaml:"waitTimeout" env-default:"60"`
		CheckTimeout int    `yaml:"checkTimeout" env-default:"60"`
		LogFile      string `yaml:"logFile" env:"e2e_client_log_file"`
		LogLevel     string `yaml:"logLevel" env-default:"info"`
		// Number of backends running on every node
		Backends int `yaml:"backends" env-default:"2"`
	} `yaml:"client"`
	SSH struct {
		User           string `yaml:"user" env:"e2e_ssh_user" env-default:"root"`
		Port           int    `yaml:"port" env-default:"22"`
		IdentityFile   string `yaml:"identityFile" env:"e2e_ssh_identity_file"`
		KnownHostsFile string `yaml:"knownHostsFile" env:"e2e_ssh_known_hosts"`
		// Timeout units are seconds
		Timeout int `yaml:"timeout" env-default:"30"`
	} `yaml:"ssh"`
	Bench struct {
		// Network interface the netem scheduler is attached to
		Interface string `yaml:"interface" env-default:"eth0"`
		// Directory holding <backend>/ids on every node
		HistoryPath string `yaml:"historyPath" env-default:"/var/tmp/elliptics/history"`
	} `yaml:"bench"`
	// Individual Test parameters
	Recovery struct {
		Tool                        string  `yaml:"tool" env:"e2e_recovery_tool" env-default:"dnet_recovery"`
		ConsistentFilesNumber       int     `yaml:"consistentFilesNumber" env-default:"20"`
		InconsistentFilesNumber     int     `yaml:"inconsistentFilesNumber" env-default:"5"`
		InconsistentFilesPercentage float64 `yaml:"inconsistentFilesPercentage" env-default:"0.6"`
		NotExistentPercentage       float64 `yaml:"notExistentPercentage" env-default:"0.33"`
		// FileSize 0 picks a random size in [MinFileSize, MaxFileSize] per key
		FileSize      int `yaml:"fileSize"`
		MinFileSize   int `yaml:"minFileSize" env-default:"1"`
		MaxFileSize   int `yaml:"maxFileSize" env-default:"1048576"`
		IndexesNumber int `yaml:"indexesNumber" env-default:"5"`
		// DroppedGroupsNumber 0 drops half of the groups, rounded up
		DroppedGroupsNumber int `yaml:"droppedGroupsNumber"`
		NProcess            int `yaml:"nprocess" env-default:"3"`
		Concurrency         int `yaml:"concurrency" env-default:"16"`
		// Timeout and CacheSyncTimeout units are seconds
		Timeout          int   `yaml:"timeout" env:"e2e_recovery_timeout" env-default:"600"`
		CacheSyncTimeout int   `yaml:"cacheSyncTimeout"`
		Seed             int64 `yaml:"seed" env:"e2e_recovery_seed"`
		// Persisted buckets, written when empty
		ConsistentKeysFile   string `yaml:"consistentKeysFile"`
		InconsistentKeysFile string `yaml:"inconsistentKeysFile"`
		DroppedGroupsFile    string `yaml:"droppedGroupsFile"`
	} `yaml:"recovery"`
	MixStates struct {
		StabilizeRequests  int      `yaml:"stabilizeRequests" env-default:"50"`
		SampleRequests     int      `yaml:"sampleRequests" env-default:"100"`
		Samples            int      `yaml:"samples" env-default:"10"`
		RetryMax           int      `yaml:"retryMax" env-default:"1000"`
		StatisticsRetryMax int      `yaml:"statisticsRetryMax" env-default:"1000000"`
		InaccuracyRate     float64  `yaml:"inaccuracyRate" env-default:"2.0"`
		Cases              []string `yaml:"cases" env-default:"------,+-----,+++++-"`
		// Delays are milliseconds, the expected time microseconds
		HighDelay            int    `yaml:"highDelay" env-default:"700"`
		LowDelayExpectedTime int    `yaml:"lowDelayExpectedTime" env-default:"5000"`
		ClientLog            string `yaml:"clientLog" env-default:"elliptics_client.log"`
	} `yaml:"mixStates"`
	Indexes struct {
		IndexesNumber int `yaml:"indexesNumber" env-default:"5"`
		// Keys are written and indexed batch by batch
		BatchesNumber int   `yaml:"batchesNumber" env-default:"100"`
		FilesPerBatch int   `yaml:"filesPerBatch" env-default:"1000"`
		Seed          int64 `yaml:"seed" env:"e2e_indexes_seed"`
	} `yaml:"indexes"`
	ReadWrite struct {
		// Bounds of the random payloads, UserFlagsMax 0 allows any flags
		MinDataSize  int    `yaml:"minDataSize" env-default:"16"`
		MaxDataSize  int    `yaml:"maxDataSize" env-default:"10485760"`
		UserFlagsMax uint64 `yaml:"userFlagsMax"`
		Seed         int64  `yaml:"seed" env:"e2e_read_write_seed"`
	} `yaml:"readWrite"`
	// Run configuration
	ReportsDir       string `yaml:"reportsDir" env:"e2e_reports_dir"`
	ArtifactsDir     string `yaml:"artifactsDir" env:"e2e_artifacts_dir"`
	TeamCity         bool   `yaml:"teamcity" env:"e2e_teamcity"`
	EllipticsVersion string `yaml:"ellipticsVersion" env:"e2e_elliptics_version" env-default:"unknown"`
}

var once sync.Once
var e2eConfig E2EConfig

// RootDir is the repository root, located from this source file.
func RootDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return path.Clean(filename + "/../../../")
}

func configDir() string {
	return path.Clean(RootDir() + "/configurations")
}

func configFileExists(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	} else if os.IsNotExist(err) {
		fmt.Printf("Configuration file %s does not exist\n", path)
	} else {
		fmt.Printf("Configuration file %s is not accessible\n", path)
	}
	return false
}

// DefaultArtifactsDir is used when the configuration leaves artifactsDir empty.
func DefaultArtifactsDir() string {
	return path.Clean(RootDir() + "/artifacts")
}

// ConfigFile resolves the value of e2e_config_file: a path to a file, or the
// name of a file in the configuration directory. Empty means ci_e2e_config.yaml.
func ConfigFile(value string) string {
	if value == "" {
		return fmt.Sprintf("%s/ci_e2e_config.yaml", configDir())
	}
	if configFileExists(value) {
		return value
	}
	return fmt.Sprintf("%s/%s", configDir(), value)
}

// Load reads a configuration file with the env overrides applied.
func Load(configFile string) (E2EConfig, error) {
	var cfg E2EConfig
	if err := cleanenv.ReadConfig(configFile, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = DefaultArtifactsDir()
	}
	return cfg, nil
}

// This function is called early from the reporters and various bits have not been initialised yet
// so we cannot use logf or Expect instead we use fmt.Print... and panic.
func GetConfig() E2EConfig {
	once.Do(func() {
		configFile := ConfigFile(os.Getenv("e2e_config_file"))
		fmt.Printf("Using configuration file %s\n", configFile)
		var err error
		e2eConfig, err = Load(configFile)
		if err != nil {
			panic(fmt.Sprintf("%v", err))
		}

		cfgBytes, _ := yaml.Marshal(e2eConfig)
		_ = os.MkdirAll(e2eConfig.ArtifactsDir, 0755)
		cfgUsedFile := path.Clean(e2eConfig.ArtifactsDir + "/e2e_config.used.yaml")
		_ = ioutil.WriteFile(cfgUsedFile, cfgBytes, 0644)
	})

	return e2eConfig
}
