package status

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/interpretive-systems/branchview/internal/gitx"
)

// GitPort is the slice of the git client the aggregator needs.
type GitPort interface {
	DiffSummary(ctx context.Context, base string) ([]gitx.DiffEntry, error)
	MergeBase(ctx context.Context, target string, strict bool) (string, error)
	StatusPorcelain(ctx context.Context) ([]gitx.PorcelainEntry, error)
	PathsExistInRevision(ctx context.Context, paths []string, revision string) (map[string]bool, error)
}

// Options are the knobs prefs exposes for pathological repositories.
type Options struct {
	// StrictMergeBase propagates merge-base failures instead of falling
	// back to the target ref.
	StrictMergeBase bool
	// ExistenceDegrade treats a failed batched existence check as "path
	// absent" instead of aborting the refresh.
	ExistenceDegrade bool
}

// Aggregator computes the per-path status map for one repository
// against a source branch ref. It holds no state between computations.
type Aggregator struct {
	git  GitPort
	opts Options
	log  *zap.Logger
}

func NewAggregator(git GitPort, opts Options, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{git: git, opts: opts, log: log}
}

// Compute resolves the merge-base of HEAD and sourceRef, runs the
// committed diff and the porcelain status concurrently, merges them with
// porcelain winning per-path, filters paths that never existed in the
// base, and derives directory statuses. The returned map is complete:
// callers publish it once, never in stages.
func (a *Aggregator) Compute(ctx context.Context, sourceRef string) (Map, error) {
	base, err := a.git.MergeBase(ctx, sourceRef, a.opts.StrictMergeBase)
	if err != nil {
		return nil, err
	}

	var diff []gitx.DiffEntry
	var porcelain []gitx.PorcelainEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		diff, err = a.git.DiffSummary(gctx, base)
		return err
	})
	g.Go(func() error {
		var err error
		porcelain, err = a.git.StatusPorcelain(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make(Map, len(diff)+len(porcelain))
	for _, d := range diff {
		files[d.Path] = Entry{Path: d.Path, Kind: diffKind(d.Code), OldPath: d.OldPath}
	}
	// The working tree is the most current truth: porcelain entries
	// override committed-diff entries unconditionally.
	workingDeleted := make([]string, 0)
	for _, p := range porcelain {
		k := porcelainKind(p)
		if k == None {
			continue
		}
		files[p.Path] = Entry{Path: p.Path, Kind: k, OldPath: p.OldPath}
		if k == Deleted {
			workingDeleted = append(workingDeleted, p.Path)
		}
	}

	if err := a.filterNeverExisted(ctx, files, workingDeleted, base); err != nil {
		return nil, err
	}

	dirs, err := a.deriveDirectories(ctx, files, base)
	if err != nil {
		return nil, err
	}
	for d, k := range dirs {
		files[d] = Entry{Path: d, Kind: k, Dir: true}
	}
	return files, nil
}

// filterNeverExisted removes working-tree deletions of paths that were
// introduced after the merge-base: they never existed in the comparison
// base, so they must not show up as deleted (or at all). One batched
// existence query covers every candidate.
func (a *Aggregator) filterNeverExisted(ctx context.Context, files Map, deleted []string, base string) error {
	if len(deleted) == 0 {
		return nil
	}
	exists, err := a.git.PathsExistInRevision(ctx, deleted, base)
	if err != nil {
		if !a.opts.ExistenceDegrade {
			return err
		}
		a.log.Warn("existence check failed, treating deleted paths as never-existed",
			zap.String("base", base), zap.Error(err))
		exists = map[string]bool{}
	}
	for _, p := range deleted {
		if !exists[p] {
			delete(files, p)
		}
	}
	return nil
}

// deriveDirectories runs the two-pass directory algorithm. Pass 1 walks
// every changed file up through its parents merging candidate statuses
// by priority. Pass 2 batch-checks directories that came out added or
// untracked against the base revision: a directory that pre-existed and
// merely gained content is modified, not added.
func (a *Aggregator) deriveDirectories(ctx context.Context, files Map, base string) (map[string]Kind, error) {
	trie := newDirTrie()
	for _, e := range files {
		trie.addFile(e.Path, dirCandidate(e.Kind))
	}
	dirs := trie.collect()

	provisional := make([]string, 0)
	for d, k := range dirs {
		if k == Added || k == Untracked {
			provisional = append(provisional, d)
		}
	}
	if len(provisional) == 0 {
		return dirs, nil
	}
	exists, err := a.git.PathsExistInRevision(ctx, provisional, base)
	if err != nil {
		if !a.opts.ExistenceDegrade {
			return nil, err
		}
		a.log.Warn("directory existence check failed, keeping provisional statuses",
			zap.String("base", base), zap.Error(err))
		return dirs, nil
	}
	for _, d := range provisional {
		if exists[d] {
			dirs[d] = Modified
		}
	}
	return dirs, nil
}

func diffKind(c gitx.StatusCode) Kind {
	switch c {
	case gitx.CodeAdded:
		return Added
	case gitx.CodeDeleted:
		return Deleted
	case gitx.CodeRenamed:
		return Renamed
	case gitx.CodeCopied:
		return Copied
	default:
		return Modified
	}
}

func porcelainKind(p gitx.PorcelainEntry) Kind {
	x, y := p.Index, p.Worktree
	switch {
	case x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
		return Conflicted
	case x == '?' || y == '?':
		return Untracked
	case x == '!' || y == '!':
		return Ignored
	case y == 'D' || x == 'D':
		return Deleted
	case x == 'A':
		return Added
	case x == 'R' || y == 'R':
		return Renamed
	case x == 'C' || y == 'C':
		return Copied
	case x == 'M' || y == 'M' || x == 'T' || y == 'T':
		return Modified
	default:
		return None
	}
}

// dirCandidate maps a file status to the status its parent directories
// provisionally inherit.
func dirCandidate(k Kind) Kind {
	switch k {
	case Deleted, Renamed, Modified:
		return Modified
	case Added, Copied:
		return Added
	case Untracked:
		return Untracked
	case Conflicted:
		return Conflicted
	case Ignored:
		return Ignored
	default:
		return None
	}
}

// dirTrie indexes changed paths by segment so parent walks and the
// existence batch operate on structured keys, never on substring
// matching. Sibling directories with a shared name prefix stay
// independent.
type dirTrie struct {
	root *dirTrieNode
}

type dirTrieNode struct {
	children map[string]*dirTrieNode
	kind     Kind
	marked   bool
}

func newDirTrie() *dirTrie {
	return &dirTrie{root: &dirTrieNode{children: map[string]*dirTrieNode{}}}
}

// addFile merges candidate into every directory on the file's parent
// chain. Higher priority wins, ties keep the existing candidate.
func (t *dirTrie) addFile(filePath string, candidate Kind) {
	if candidate == None {
		return
	}
	segs := strings.Split(filePath, "/")
	if len(segs) < 2 {
		return // file at repository root, no parent directory
	}
	n := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := n.children[seg]
		if !ok {
			child = &dirTrieNode{children: map[string]*dirTrieNode{}}
			n.children[seg] = child
		}
		if !child.marked || candidate.Priority() > child.kind.Priority() {
			child.kind = candidate
			child.marked = true
		}
		n = child
	}
}

func (t *dirTrie) collect() map[string]Kind {
	out := make(map[string]Kind)
	var walk func(n *dirTrieNode, prefix string)
	walk = func(n *dirTrieNode, prefix string) {
		for seg, child := range n.children {
			p := seg
			if prefix != "" {
				p = prefix + "/" + seg
			}
			if child.marked {
				out[p] = child.kind
			}
			walk(child, p)
		}
	}
	walk(t.root, "")
	return out
}
