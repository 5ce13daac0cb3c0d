package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Syncer clones and pulls git-hosted content sources.
type Syncer struct {
	log *slog.Logger
	// Progress receives git's progress output; nil discards it.
	Progress io.Writer
}

func New(log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{log: log}
}

// IsGitURL reports whether a source path names a remote repository rather
// than a local directory.
func IsGitURL(source string) bool {
	if strings.HasSuffix(source, ".git") {
		return true
	}
	u, err := url.Parse(source)
	if err == nil && (u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh" || u.Scheme == "git") {
		return true
	}
	return strings.HasPrefix(source, "git@")
}

// LocalPath maps a repository URL to a checkout directory under baseDir,
// e.g. https://github.com/a/b.git becomes baseDir/github.com/a/b.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || parsedURL.Host == "" {
		// scp-like syntax: git@host:owner/repo.git
		if _, rest, ok := strings.Cut(repoURL, "@"); ok {
			if host, repoPath, ok := strings.Cut(rest, ":"); ok && host != "" && repoPath != "" {
				return filepath.Join(baseDir, host, strings.TrimSuffix(repoPath, ".git")), nil
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does.
func (s *Syncer) Sync(ctx context.Context, repoURL, localPath string) error {
	progress := s.Progress
	if progress == nil {
		progress = io.Discard
	}

	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("Cloning repository", "url", repoURL, "path", localPath)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", localPath, err)
		}
		if _, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:      repoURL,
			Progress: progress,
		}); err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		s.log.Info("Clone successful", "url", repoURL)
	case err == nil:
		s.log.Info("Pulling latest changes", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}

		err = worktree.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Progress:   progress,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		s.log.Info("Pull successful", "path", localPath, "up_to_date", err != nil)
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	return nil
}
