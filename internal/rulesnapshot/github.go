package rulesnapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// githubFetcher fetches rule bundles from a GitHub-hosted repository, using
// the commits API for the head SHA (read as a raw SHA string, matching
// `Accept: application/vnd.github.sha`) and the repository zipball endpoint
// for the archive.
type githubFetcher struct {
	client *gogithub.Client
	http   *http.Client
}

func newGitHubFetcher(token string) *githubFetcher {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &githubFetcher{client: gogithub.NewClient(tc), http: tc}
}

func (g *githubFetcher) FetchCommitHash(ctx context.Context, repo, branch string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	sha, _, err := g.client.Repositories.GetCommitSHA1(ctx, owner, name, branch, "")
	if err != nil {
		return "", fmt.Errorf("getting commit sha for %s@%s: %w", repo, branch, err)
	}
	return sha, nil
}

func (g *githubFetcher) FetchArchive(ctx context.Context, repo, branch string) ([]byte, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/zipball/%s", owner, name, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building zipball request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading zipball for %s@%s: %w", repo, branch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading zipball for %s@%s: unexpected status %s", repo, branch, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading zipball body: %w", err)
	}
	return body, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q must be in owner/repo form", repo)
	}
	return parts[0], parts[1], nil
}
