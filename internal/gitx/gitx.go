package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner abstracts executing the git binary so tests can substitute output.
type Runner interface {
	Run(ctx context.Context, root string, args ...string) (string, error)
	RunInput(ctx context.Context, root, input string, args ...string) (string, error)
}

// ExecRunner executes the configured git binary.
type ExecRunner struct {
	GitBin string
}

func NewExecRunner(gitBin string) *ExecRunner {
	if strings.TrimSpace(gitBin) == "" {
		gitBin = "git"
	}
	return &ExecRunner{GitBin: gitBin}
}

func (e *ExecRunner) Run(ctx context.Context, root string, args ...string) (string, error) {
	return e.RunInput(ctx, root, "", args...)
}

func (e *ExecRunner) RunInput(ctx context.Context, root, input string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.GitBin, args...)
	if strings.TrimSpace(root) != "" {
		cmd.Dir = root
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var out bytes.Buffer
	var errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		op := "git"
		if len(args) > 0 {
			op = args[0]
		}
		return "", &OperationError{
			Op:     op,
			Args:   append([]string(nil), args...),
			Stderr: strings.TrimSpace(errb.String()),
			Err:    err,
		}
	}
	return out.String(), nil
}

// OperationError reports a failed git subprocess call with enough
// context to diagnose it from a log line.
type OperationError struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *OperationError) Error() string {
	msg := e.Stderr
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", e.Op, msg)
}

func (e *OperationError) Unwrap() error { return e.Err }

// StatusCode is a single-letter name-status code from git diff.
type StatusCode byte

const (
	CodeAdded    StatusCode = 'A'
	CodeModified StatusCode = 'M'
	CodeDeleted  StatusCode = 'D'
	CodeRenamed  StatusCode = 'R'
	CodeCopied   StatusCode = 'C'
)

// DiffEntry is one line of name-status diff output.
type DiffEntry struct {
	Path    string
	Code    StatusCode
	OldPath string // set for renames and copies
}

// PorcelainEntry is one line of porcelain v1 status output.
type PorcelainEntry struct {
	Path     string
	Index    byte // staged column
	Worktree byte // working-tree column
	OldPath  string
}

// BranchLocation reports where a branch name resolves.
type BranchLocation struct {
	Local     bool
	RemoteRef string // e.g. "origin/main"; empty when not found on a remote
}

// Client answers the read-only queries the status engine needs,
// scoped to one repository.
type Client struct {
	root string
	run  Runner
}

func NewClient(root string) *Client {
	return &Client{root: root, run: NewExecRunner("git")}
}

// NewClientWithRunner is used by tests to substitute git output.
func NewClientWithRunner(root string, r Runner) *Client {
	return &Client{root: root, run: r}
}

func (c *Client) Root() string { return c.root }

// RepoRoot resolves the git repository root from a given path (or current dir).
func RepoRoot(path string) (string, error) {
	if path == "" {
		path = "."
	}
	cmd := exec.Command("git", "-C", path, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("rev-parse: %w", err)
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", errors.New("empty git root")
	}
	return root, nil
}

// CurrentBranch returns the checked-out branch, or a short hash when detached.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	if out, err := c.run.Run(ctx, c.root, "symbolic-ref", "--short", "-q", "HEAD"); err == nil {
		if b := strings.TrimSpace(out); b != "" {
			return b, nil
		}
	}
	out, err := c.run.Run(ctx, c.root, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffSummary lists committed changes between base and HEAD using
// name-status codes. Rename and copy detection is on. Insertion and
// deletion counts are never consulted: a file that pre-exists in base
// is modified even when its diff is pure insertions.
func (c *Client) DiffSummary(ctx context.Context, base string) ([]DiffEntry, error) {
	out, err := c.run.Run(ctx, c.root, "diff", "--name-status", "-M", "-C", base, "HEAD")
	if err != nil {
		return nil, err
	}
	var entries []DiffEntry
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		code := StatusCode(parts[0][0])
		e := DiffEntry{Code: code}
		switch code {
		case CodeRenamed, CodeCopied:
			if len(parts) < 3 {
				continue
			}
			e.OldPath = unquotePath(parts[1])
			e.Path = unquotePath(parts[2])
		default:
			e.Path = unquotePath(parts[1])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MergeBase computes the nearest common ancestor of HEAD and target.
// When strict is false a failed computation (unrelated histories,
// shallow clones) falls back to the target ref itself.
func (c *Client) MergeBase(ctx context.Context, target string, strict bool) (string, error) {
	out, err := c.run.Run(ctx, c.root, "merge-base", "HEAD", target)
	if err != nil {
		if strict {
			return "", err
		}
		return target, nil
	}
	return strings.TrimSpace(out), nil
}

// StatusPorcelain lists uncommitted and untracked changes, including
// ignored entries so they can be classified rather than hidden.
func (c *Client) StatusPorcelain(ctx context.Context) ([]PorcelainEntry, error) {
	out, err := c.run.Run(ctx, c.root, "status", "--porcelain", "--ignored=matching", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var entries []PorcelainEntry
	for _, line := range splitLines(out) {
		if len(line) < 4 {
			continue
		}
		e := PorcelainEntry{Index: line[0], Worktree: line[1]}
		raw := line[3:]
		if i := strings.Index(raw, " -> "); i >= 0 {
			e.OldPath = unquotePath(raw[:i])
			raw = raw[i+4:]
		}
		e.Path = unquotePath(raw)
		if e.Path == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PathsExistInRevision answers, for each path, whether it resolves to an
// object (blob or tree) in the given revision. One subprocess call
// regardless of how many paths are asked; cat-file --batch-check echoes
// results in input order.
func (c *Client) PathsExistInRevision(ctx context.Context, paths []string, revision string) (map[string]bool, error) {
	result := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return result, nil
	}
	var in strings.Builder
	for _, p := range paths {
		in.WriteString(revision)
		in.WriteByte(':')
		in.WriteString(p)
		in.WriteByte('\n')
	}
	out, err := c.run.RunInput(ctx, c.root, in.String(), "cat-file", "--batch-check")
	if err != nil {
		return nil, err
	}
	lines := splitLines(out)
	for i, p := range paths {
		if i >= len(lines) {
			result[p] = false
			continue
		}
		line := lines[i]
		result[p] = !strings.HasSuffix(line, " missing") && !strings.HasSuffix(line, " ambiguous")
	}
	return result, nil
}

// Branches lists local branch names.
func (c *Client) Branches(ctx context.Context) ([]string, error) {
	out, err := c.run.Run(ctx, c.root, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// BranchLocation reports whether name exists as a local branch, on a
// remote, or both. The remote ref is the first remote-tracking ref whose
// branch part matches.
func (c *Client) BranchLocation(ctx context.Context, name string) (BranchLocation, error) {
	var loc BranchLocation
	if _, err := c.run.Run(ctx, c.root, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		loc.Local = true
	}
	out, err := c.run.Run(ctx, c.root, "for-each-ref", "--format=%(refname:short)", "refs/remotes")
	if err != nil {
		if loc.Local {
			return loc, nil
		}
		return loc, err
	}
	for _, ref := range splitLines(out) {
		if strings.HasSuffix(ref, "/HEAD") {
			continue
		}
		if i := strings.Index(ref, "/"); i >= 0 && ref[i+1:] == name {
			loc.RemoteRef = ref
			break
		}
	}
	return loc, nil
}

func splitLines(out string) []string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	res := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			res = append(res, l)
		}
	}
	return res
}

// unquotePath undoes git's C-style quoting of unusual path names.
func unquotePath(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "\"") {
		if decoded, err := strconv.Unquote(p); err == nil {
			return decoded
		}
	}
	return p
}
