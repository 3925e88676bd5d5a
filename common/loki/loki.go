package loki

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/common/e2e_config"
)

const pushURL = "https://logs-prod-us-central1.grafana.net/loki/api/v1/push"

type credentials struct {
	user        string
	password    string
	buildNumber string
}

var g_creds credentials
var g_enabled = false
var g_once sync.Once

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

func loadCredentials() {
	g_creds = credentials{
		user:        os.Getenv("grafana_api_user"),
		password:    os.Getenv("grafana_api_pw"),
		buildNumber: os.Getenv("e2e_build_number"),
	}
	c := g_creds
	if c.user != "" && c.password != "" && c.buildNumber != "" {
		g_enabled = true
	} else if c.user != "" || c.password != "" || c.buildNumber != "" { // all should be defined or none
		errorStr := "Invalid combination of environment variables"
		if c.user == "" {
			errorStr += ", user is not defined"
		}
		if c.password == "" {
			errorStr += ", password is not defined"
		}
		if c.buildNumber == "" {
			errorStr += ", build number is not defined"
		}
		logf.Log.Info("Invalid Loki config", "reason", errorStr)
	}
}

// MarkerRequest builds the push body for a marker line of a build.
func MarkerRequest(buildNumber, version, text string, at time.Time) ([]byte, error) {
	req := pushRequest{Streams: []stream{{
		Stream: map[string]string{
			"run":     buildNumber,
			"version": version,
			"app":     "marker",
		},
		Values: [][2]string{{strconv.FormatInt(at.UnixNano(), 10), text}},
	}}}
	body, err := json.Marshal(req)
	return body, errors.Wrap(err, "marshal Loki marker")
}

// SendLokiMarker annotates the CI log stream, it is a no-op without
// Grafana credentials in the environment.
func SendLokiMarker(text string) {
	g_once.Do(loadCredentials)
	if !g_enabled {
		return
	}

	body, err := MarkerRequest(g_creds.buildNumber, e2e_config.GetConfig().EllipticsVersion, text, time.Now())
	if err != nil {
		logf.Log.Info("Failed to build Loki request", "error", err)
		return
	}
	req, err := http.NewRequest("POST", pushURL, bytes.NewReader(body))
	if err != nil {
		logf.Log.Info("Failed to create Loki marker request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g_creds.user, g_creds.password)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		logf.Log.Info("Failed to send Loki marker", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logf.Log.Info("Unexpected response from Grafana / Loki", "status code", resp.StatusCode)
	}
}
