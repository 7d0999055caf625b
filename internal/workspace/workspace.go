// Package workspace manages short-lived local clones that the pipeline edits,
// commits to, and pushes from.
package workspace

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	commitAuthorName  = "seopilot"
	commitAuthorEmail = "seopilot@users.noreply.github.com"
)

// Workspace is a temporary clone of the target repository. Close removes the
// clone directory; callers must always Close, including on error paths.
type Workspace struct {
	root string
	repo *git.Repository
	auth *githttp.BasicAuth
	now  func() time.Time
}

// Clone checks out the base branch of repoURL into a fresh temporary
// directory. Token may be empty for public repositories.
func Clone(ctx context.Context, repoURL, baseBranch, token string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "seo-pr-")
	if err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	var auth *githttp.BasicAuth
	if token != "" {
		auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(baseBranch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          auth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}

	return &Workspace{root: dir, repo: repo, auth: auth, now: time.Now}, nil
}

// Root returns the clone's directory on disk.
func (w *Workspace) Root() string {
	return w.root
}

// CreateBranch creates and checks out a new local branch from the current HEAD.
func (w *Workspace) CreateBranch(name string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
}

// HasChanges reports whether the worktree differs from HEAD.
func (w *Workspace) HasChanges() (bool, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	return !status.IsClean(), nil
}

// CommitAll stages every pending change and commits it. It returns the new
// commit SHA, or an empty string when there was nothing to commit.
func (w *Workspace) CommitAll(message string) (string, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return "", err
	}

	status, err := wt.Status()
	if err != nil {
		return "", err
	}
	if status.IsClean() {
		return "", nil
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  w.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// Push uploads the named branch to origin.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := w.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       w.auth,
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// HeadSHA returns the SHA of the current HEAD commit.
func (w *Workspace) HeadSHA() (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// Close removes the clone directory.
func (w *Workspace) Close() error {
	if w.root == "" {
		return nil
	}
	err := os.RemoveAll(w.root)
	w.root = ""
	return err
}
