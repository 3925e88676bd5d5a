// Command create-params-file writes the testsuite params file consumed by
// setup-cloud and runtests.
package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kis8ya/elliptics-qa/ansible"
	"github.com/kis8ya/elliptics-qa/provision"
)

type options struct {
	path             string
	tests            []string
	ellipticsVersion string
	packagesDir      string
}

// expandPath expands environment variables and a leading ~ and makes the path absolute.
func expandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "home dir")
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// buildParams merges the params of every test over the global section
// derived from the flags.
func buildParams(o options) (provision.SuiteParams, error) {
	if (o.ellipticsVersion == "") == (o.packagesDir == "") {
		return nil, errors.New("exactly one of --elliptics-version and --packages-dir is required")
	}
	global := ansible.Vars{}
	if o.packagesDir != "" {
		dir, err := expandPath(o.packagesDir)
		if err != nil {
			return nil, err
		}
		global["packages_dir"] = dir
	}
	if o.ellipticsVersion != "" {
		global["elliptics_version"] = o.ellipticsVersion
	}
	params := provision.SuiteParams{provision.GlobalParams: global}
	for _, t := range o.tests {
		var test provision.SuiteParams
		if err := json.Unmarshal([]byte(t), &test); err != nil {
			return nil, errors.Wrapf(err, "parse --test %s", t)
		}
		for name, p := range test {
			params[name] = p
		}
	}
	return params, nil
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "create-params-file",
		Short:        "Write testsuite params for the bench setup",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := buildParams(o)
			if err != nil {
				return err
			}
			b, err := json.Marshal(params)
			if err != nil {
				return err
			}
			return errors.Wrap(ioutil.WriteFile(o.path, b, 0644), "write params file")
		},
	}
	cmd.Flags().StringVar(&o.path, "path", "", "path to store test parameters")
	cmd.Flags().StringArrayVar(&o.tests, "test", nil, "parameters for a specific test, as JSON {\"name\": {...}}")
	cmd.Flags().StringVar(&o.ellipticsVersion, "elliptics-version", "", "version of elliptics packages")
	cmd.Flags().StringVar(&o.packagesDir, "packages-dir", "", "path to directory with elliptics packages to install")
	_ = cmd.MarkFlagRequired("path")
	cmd.MarkFlagsMutuallyExclusive("elliptics-version", "packages-dir")
	return cmd
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
