// Package githubsync optionally mirrors task completion onto a GitHub pull
// request matching the task's branch, for teams that open PRs out-of-band
// from this engine's own git worktree merges. Entirely optional: spec.md
// treats PRs/backends as external, so every exported method tolerates a
// nil *Sync and becomes a no-op. Grounded on
// nickmisasi-mattermost-plugin-cursor/server/ghclient/client.go's go-github
// wrapping style (PAT auth, auto-pagination, nil-client-means-disabled).
package githubsync

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Sync posts task-completion comments to GitHub pull requests.
type Sync struct {
	gh    *github.Client
	owner string
	repo  string
}

// New builds a Sync authenticated with token against owner/repo. Returns
// nil if token is empty, matching ghclient.NewClient's "absent token means
// disabled" convention. Auth uses the standard oauth2.StaticTokenSource
// pattern rather than go-github's WithAuthToken shortcut, matching the
// wider ecosystem's documented way of wiring a PAT into go-github.
func New(token, owner, repo string) *Sync {
	if token == "" {
		return nil
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Sync{gh: github.NewClient(httpClient), owner: owner, repo: repo}
}

// AnnotateTaskDone finds the open PR whose head branch matches branch and
// posts summary as an issue comment. No-op (nil receiver or no matching
// PR) without error.
func (s *Sync) AnnotateTaskDone(ctx context.Context, branch, summary string) error {
	if s == nil {
		return nil
	}
	pr, err := s.findPR(ctx, branch)
	if err != nil {
		return fmt.Errorf("githubsync: find PR for %s: %w", branch, err)
	}
	if pr == nil {
		return nil
	}
	_, _, err = s.gh.Issues.CreateComment(ctx, s.owner, s.repo, pr.GetNumber(), &github.IssueComment{
		Body: github.Ptr(summary),
	})
	if err != nil {
		return fmt.Errorf("githubsync: comment on PR #%d: %w", pr.GetNumber(), err)
	}
	return nil
}

func (s *Sync) findPR(ctx context.Context, branch string) (*github.PullRequest, error) {
	prs, _, err := s.gh.PullRequests.List(ctx, s.owner, s.repo, &github.PullRequestListOptions{
		Head:        s.owner + ":" + branch,
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}
