// Package git shells out to the git binary for the few repository
// operations the task manager needs: branch handling and shared clones for
// isolated working trees.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yoshihiko555/takt/internal/logging"
)

// Client runs git commands against one repository.
type Client struct {
	repoPath string
	logger   *logging.Logger
}

// NewClient creates a git client rooted at repoPath.
func NewClient(repoPath string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{repoPath: repoPath, logger: logger}
}

// RepoPath returns the repository root this client operates on.
func (c *Client) RepoPath() string { return c.repoPath }

// run executes a git command in the repository.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.repoPath}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether the path is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "rev-parse", "--verify", "refs/heads/"+name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// CreateBranch creates a branch from a base ref without checking it out.
func (c *Client) CreateBranch(ctx context.Context, name, base string) error {
	if base == "" {
		base = "HEAD"
	}
	_, err := c.run(ctx, "branch", name, base)
	return err
}

// SharedClone creates a shared clone of the repository at dest.
func (c *Client) SharedClone(ctx context.Context, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--shared", c.repoPath, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone --shared: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Checkout switches a clone to a branch, creating it when absent.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	if _, err := c.run(ctx, "checkout", branch); err == nil {
		return nil
	}
	_, err := c.run(ctx, "checkout", "-b", branch)
	return err
}
