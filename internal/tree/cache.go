package tree

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/interpretive-systems/branchview/internal/status"
)

// Cache materializes the node tree the UI consumes: live filesystem
// structure merged with virtual deleted nodes from the status map.
// Listings are cached per directory and every slice that leaves this
// package has been deduplicated by absolute path.
type Cache struct {
	root string
	log  *zap.Logger

	mu       sync.Mutex
	mode     ViewMode
	statuses status.Map
	children map[string][]*Node
	pending  map[string]*load
	gen      uint64
	notify   func(target string)
}

type load struct {
	done  chan struct{}
	nodes []*Node
	err   error
}

func NewCache(root string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		root:     filepath.Clean(root),
		log:      log,
		children: map[string][]*Node{},
		pending:  map[string]*load{},
	}
}

func (c *Cache) Root() string { return c.root }

// SetNotifier registers the single tree-change listener. The target is
// the absolute path of the refreshed node, or "" for a full refresh.
func (c *Cache) SetNotifier(fn func(target string)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// Children lists a directory. Cache hits return immediately; on a miss
// the caller computes and caches. A second caller asking for the same
// directory while a load is pending joins that load instead of reading
// the filesystem again. Returned nodes are immutable snapshots: status
// updates swap in fresh nodes, they never write to borrowed ones.
func (c *Cache) Children(dir string) ([]*Node, error) {
	dir = filepath.Clean(dir)
	c.mu.Lock()
	if nodes, ok := c.children[dir]; ok {
		out := append([]*Node(nil), nodes...)
		c.mu.Unlock()
		return out, nil
	}
	if l, ok := c.pending[dir]; ok {
		c.mu.Unlock()
		<-l.done
		return append([]*Node(nil), l.nodes...), l.err
	}
	l := &load{done: make(chan struct{})}
	c.pending[dir] = l
	gen := c.gen
	snap := c.statuses
	mode := c.mode
	c.mu.Unlock()

	nodes, err := c.list(dir, snap, mode)

	c.mu.Lock()
	if c.pending[dir] == l {
		delete(c.pending, dir)
	}
	// A load that raced an invalidation must not resurrect a stale
	// listing; its waiters still get the result, the cache does not.
	if err == nil && gen == c.gen {
		c.children[dir] = nodes
	}
	c.mu.Unlock()

	l.nodes, l.err = nodes, err
	close(l.done)
	return append([]*Node(nil), nodes...), err
}

func (c *Cache) list(dir string, snap status.Map, mode ViewMode) ([]*Node, error) {
	relDir, err := c.relKey(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// A directory that exists only in the status map (deleted
		// subtree) lists as empty real content plus virtual nodes.
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		entries = nil
	}

	nodes := make([]*Node, 0, len(entries))
	realNames := make(map[string]bool, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == ".git" {
			continue
		}
		realNames[name] = true
		st := snap[joinRel(relDir, name)].Kind
		nodes = append(nodes, newNode(dir, name, e.IsDir(), st))
	}

	// Virtual entries: status-map paths under this directory with no
	// filesystem presence. Real entries win name collisions; that only
	// happens transiently while a file is being restored.
	for p, e := range snap {
		parent, name := splitRel(p)
		if parent != relDir || realNames[name] {
			continue
		}
		switch {
		case e.Kind == status.Deleted && !e.Dir:
			nodes = append(nodes, newVirtualNode(dir, name))
		case e.Dir:
			n := newNode(dir, name, true, e.Kind)
			n.Virtual = true
			nodes = append(nodes, n)
		}
	}

	if mode == ViewChanged {
		filtered := nodes[:0]
		for _, n := range nodes {
			rel := joinRel(relDir, n.Name)
			if n.Status != status.None || n.Virtual {
				filtered = append(filtered, n)
				continue
			}
			if n.IsDir && hasDescendant(snap, rel) {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}

	nodes = c.dedupe(nodes)
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

// dedupe drops any node whose absolute path was already seen, keeping
// the first occurrence. A duplicate here means an upstream merge bug;
// it is logged as a defect, never surfaced to the consumer.
func (c *Cache) dedupe(nodes []*Node) []*Node {
	seen := make(map[string]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if seen[n.Path] {
			c.log.Error("cache consistency violation: duplicate node identity",
				zap.String("path", n.Path))
			continue
		}
		seen[n.Path] = true
		out = append(out, n)
	}
	return out
}

// ApplyStatus installs a freshly published status map. Content-only
// changes keep the structural cache and patch node statuses in place;
// structural changes (paths appearing as added, untracked, or deleted,
// or such entries disappearing) invalidate the affected directories.
// Fires the tree notifier exactly once.
func (c *Cache) ApplyStatus(m status.Map) {
	c.mu.Lock()
	prev := c.statuses
	c.statuses = m

	structural := map[string]bool{}
	for p, e := range m {
		pe, ok := prev[p]
		if ok && pe.Kind == e.Kind {
			continue
		}
		if isStructural(e.Kind) || (ok && isStructural(pe.Kind)) {
			structural[p] = true
		}
	}
	for p, pe := range prev {
		if _, ok := m[p]; !ok && isStructural(pe.Kind) {
			structural[p] = true
		}
	}

	switch {
	case c.mode == ViewChanged && !mapsEqual(prev, m):
		// Filtering depends on the whole map; rebuild listings.
		c.children = map[string][]*Node{}
		c.gen++
	case len(structural) == 0:
		c.patchStatuses(m)
	default:
		c.patchStatuses(m)
		for p := range structural {
			parent, _ := splitRel(p)
			delete(c.children, c.absKey(parent))
			delete(c.children, c.absKey(p))
		}
		c.gen++
	}
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		notify("")
	}
}

// patchStatuses rebuilds every cached listing with fresh nodes carrying
// the new statuses. Slices already handed to consumers are never
// written to; they stay frozen at the cycle they were listed in.
// Caller holds the lock.
func (c *Cache) patchStatuses(m status.Map) {
	for dir, nodes := range c.children {
		fresh := make([]*Node, len(nodes))
		for i, n := range nodes {
			cp := *n
			if !cp.Virtual {
				if rel, err := c.relKey(cp.Path); err == nil {
					cp.Status = m[rel].Kind
				}
			}
			fresh[i] = &cp
		}
		c.children[dir] = fresh
	}
}

// RefreshNode invalidates one node and fires exactly one tree event:
// targeted at the node when it is currently tracked, otherwise at its
// nearest tracked ancestor, otherwise at the root.
func (c *Cache) RefreshNode(path string) {
	path = filepath.Clean(path)
	c.mu.Lock()
	target := c.resolveTarget(path)
	if target != "" {
		delete(c.children, target)
		delete(c.children, filepath.Dir(target))
	} else {
		c.children = map[string][]*Node{}
	}
	c.gen++
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		notify(target)
	}
}

// resolveTarget walks from path up to the root looking for a node the
// cache currently tracks. Caller holds the lock.
func (c *Cache) resolveTarget(path string) string {
	// Segment-exact containment check: a sibling directory sharing the
	// root's name prefix is outside the repo.
	if path != c.root && !strings.HasPrefix(path, c.root+string(filepath.Separator)) {
		return ""
	}
	for cur := path; ; cur = filepath.Dir(cur) {
		if cur == c.root || c.tracked(cur) {
			return cur
		}
		if cur == filepath.Dir(cur) {
			return ""
		}
	}
}

func (c *Cache) tracked(path string) bool {
	if _, ok := c.children[path]; ok {
		return true
	}
	for _, n := range c.children[filepath.Dir(path)] {
		if n.Path == path {
			return true
		}
	}
	return false
}

// ClearCache drops every cached listing; in-flight loads complete but
// do not repopulate.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	c.children = map[string][]*Node{}
	c.gen++
	c.mu.Unlock()
}

// SetViewMode switches between full and changed-only listings.
func (c *Cache) SetViewMode(mode ViewMode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	c.mode = mode
	c.children = map[string][]*Node{}
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) Mode() ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func isStructural(k status.Kind) bool {
	return k == status.Added || k == status.Deleted || k == status.Untracked
}

// hasDescendant reports whether the map holds any path strictly below
// relDir. The separator append keeps sibling directories with a shared
// name prefix independent.
func hasDescendant(m status.Map, relDir string) bool {
	prefix := relDir + "/"
	for p := range m {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func mapsEqual(a, b status.Map) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		if bv, ok := b[k]; !ok || av != bv {
			return false
		}
	}
	return true
}

func (c *Cache) relKey(abs string) (string, error) {
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (c *Cache) absKey(rel string) string {
	if rel == "" {
		return c.root
	}
	return filepath.Join(c.root, filepath.FromSlash(rel))
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// splitRel breaks a repo-relative path into parent ("" at the root)
// and final segment.
func splitRel(p string) (parent, name string) {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}
