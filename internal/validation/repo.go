// Package validation contains input validation helpers.
package validation

import (
	"net/url"
	"strings"
)

const githubHost = "github.com"

// GitHubRepo identifies a repository hosted on github.com.
type GitHubRepo struct {
	Owner string
	Name  string
}

// ParseGitHubRepo parses a repository URL. It returns the owner/name pair
// when the URL points at github.com and carries at least an owner and a
// repository segment; ok is false for any other well-formed URL. A
// malformed URL is reported as an error.
func ParseGitHubRepo(rawURL string) (GitHubRepo, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return GitHubRepo{}, false, err
	}

	if u.Hostname() != githubHost {
		return GitHubRepo{}, false, nil
	}

	parts := strings.Split(u.Path, "/")
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return GitHubRepo{}, false, nil
	}

	return GitHubRepo{Owner: parts[1], Name: parts[2]}, true, nil
}
