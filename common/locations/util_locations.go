package locations

// For now the relative paths are hardcoded, there may be a case to make this
// more generic and data driven.

import (
	"os"
	"path"

	"github.com/kis8ya/elliptics-qa/common/e2e_config"
)

func ensureDir(dir string) string {
	_ = os.MkdirAll(dir, 0755)
	return dir
}

func GetArtifactsDir() string {
	return ensureDir(e2e_config.GetConfig().ArtifactsDir)
}

// Buckets of keys persisted between runs and dump files handed to the recovery tool.
func GetRecoveryDir() string {
	return ensureDir(path.Clean(GetArtifactsDir() + "/recovery"))
}

func GetDumpFilePath(name string) string {
	return path.Clean(GetRecoveryDir() + "/" + name + ".dump")
}

func GetRecoveryLogPath(name string) string {
	return path.Clean(GetRecoveryDir() + "/" + name + ".log")
}

// Empty when reports are not requested.
func GetReportsDir() string {
	dir := e2e_config.GetConfig().ReportsDir
	if dir == "" {
		return ""
	}
	return ensureDir(dir)
}

func GetConfigurationsDir() string {
	return path.Clean(e2e_config.RootDir() + "/configurations")
}

func GetClientLogPath(name string) string {
	return path.Clean(GetArtifactsDir() + "/" + name)
}
