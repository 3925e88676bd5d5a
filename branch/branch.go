// Package branch maps CI branch names of the elliptics repository to the
// package distributions and versions installed on the bench.
package branch

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v61/github"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	Owner = "reverbrain"
	Repo  = "elliptics"
)

// ErrWrongBranch is returned for a branch without a distribution or version.
var ErrWrongBranch = errors.New("wrong branch was specified")

type PullRequests interface {
	Get(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error)
}

// Resolver turns CI branch names into the branches they target.
type Resolver struct {
	Pulls PullRequests
	Owner string
	Repo  string
}

// NewResolver talks to the GitHub API, authenticated when token is set.
func NewResolver(token string) *Resolver {
	client := github.NewClient(http.DefaultClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Resolver{Pulls: client.PullRequests, Owner: Owner, Repo: Repo}
}

// Target returns the branch a CI branch targets: the base of the pull
// request for pull/N/merge, the branch itself otherwise.
func (r *Resolver) Target(ctx context.Context, branch string) (string, error) {
	if !strings.HasPrefix(branch, "pull/") {
		return branch, nil
	}
	parts := strings.Split(branch, "/")
	number, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", errors.Newf("branch %s: bad pull request number", branch)
	}
	pr, _, err := r.Pulls.Get(ctx, r.Owner, r.Repo, number)
	if err != nil {
		return "", errors.Wrapf(err, "get pull request %d", number)
	}
	base := pr.GetBase().GetRef()
	logf.Log.Info("Pull request", "number", number, "base", base)
	return base, nil
}

// Distribution of packages to test a target branch with.
func Distribution(target string) (string, error) {
	switch target {
	case "master":
		return "testing", nil
	case "lts":
		return "stable", nil
	}
	return "", errors.Wrapf(ErrWrongBranch, "%s", target)
}

// Version of the elliptics packages built from a target branch.
func Version(target string) (string, error) {
	switch target {
	case "master":
		return "v2.26", nil
	case "v2.25":
		return "v2.25", nil
	}
	return "", errors.Wrapf(ErrWrongBranch, "%s", target)
}

// Image the bench instances boot for a distribution.
func Image(distribution string) string {
	if distribution == "stable" {
		return "elliptics-lts"
	}
	return "elliptics"
}
