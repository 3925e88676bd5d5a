package reporter

import (
	"os"

	"github.com/kis8ya/elliptics-qa/common/e2e_config"
	"github.com/kis8ya/elliptics-qa/common/locations"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/reporters"
)

func GetReporters(name string) []Reporter {
	var res []Reporter
	if reportDir := locations.GetReportsDir(); reportDir != "" {
		testGroupPrefix := "e2e."
		xmlFileSpec := reportDir + "/" + testGroupPrefix + name + "-junit.xml"
		res = append(res, reporters.NewJUnitReporter(xmlFileSpec))
	}
	if e2e_config.GetConfig().TeamCity {
		res = append(res, reporters.NewTeamCityReporter(os.Stdout))
	}
	return res
}
