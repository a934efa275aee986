package rulesnapshot

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// gitlabFetcher fetches rule bundles from a GitLab-hosted repository for
// deployments whose rule repository lives on GitLab instead of GitHub.
type gitlabFetcher struct {
	client *gitlab.Client
}

func newGitLabFetcher(token string) (*gitlabFetcher, error) {
	client, err := gitlab.NewClient(token)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &gitlabFetcher{client: client}, nil
}

func (g *gitlabFetcher) FetchCommitHash(ctx context.Context, repo, branch string) (string, error) {
	commit, _, err := g.client.Commits.GetCommit(repo, branch, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("getting commit for %s@%s: %w", repo, branch, err)
	}
	return commit.ID, nil
}

func (g *gitlabFetcher) FetchArchive(ctx context.Context, repo, branch string) ([]byte, error) {
	format := "zip"
	data, _, err := g.client.Repositories.Archive(repo, &gitlab.ArchiveOptions{
		Format: &format,
		SHA:    &branch,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("downloading archive for %s@%s: %w", repo, branch, err)
	}
	return data, nil
}
