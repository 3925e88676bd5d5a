// Command elliptics-version prints the elliptics version built from a branch
// of the elliptics repository.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kis8ya/elliptics-qa/branch"
)

const (
	exitOK          = 0
	exitWrongBranch = 1
	exitFailure     = 2
)

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "elliptics-version BRANCH",
		Short:         "Print the elliptics version of a branch (master, v2.25 or pull/N/merge)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := branch.NewResolver(os.Getenv("GITHUB_TOKEN"))
			target, err := r.Target(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			version, err := branch.Version(target)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, branch.ErrWrongBranch) {
			os.Exit(exitWrongBranch)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}
