package tree

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/interpretive-systems/branchview/internal/status"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(t.TempDir(), nil)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func names(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func find(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func TestChildren_ListsFilesWithStatuses(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "a.txt"), "a")
	write(t, filepath.Join(root, "src", "b.txt"), "b")

	c.ApplyStatus(status.Map{
		"a.txt":     {Path: "a.txt", Kind: status.Modified},
		"src/b.txt": {Path: "src/b.txt", Kind: status.Added},
		"src":       {Path: "src", Kind: status.Modified, Dir: true},
	})

	nodes, err := c.Children(root)
	if err != nil {
		t.Fatalf("Children error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("want 2 nodes, got %v", names(nodes))
	}
	// directories sort first
	if !nodes[0].IsDir || nodes[0].Name != "src" {
		t.Fatalf("want src first, got %v", names(nodes))
	}
	if nodes[0].Status != status.Modified {
		t.Fatalf("src status: want modified, got %v", nodes[0].Status)
	}
	if nodes[1].Status != status.Modified {
		t.Fatalf("a.txt status: want modified, got %v", nodes[1].Status)
	}

	sub, err := c.Children(filepath.Join(root, "src"))
	if err != nil {
		t.Fatal(err)
	}
	if n := find(sub, "b.txt"); n == nil || n.Status != status.Added {
		t.Fatalf("src/b.txt: want added, got %v", sub)
	}
}

func TestChildren_MergesVirtualDeletedNodes(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "kept.txt"), "k")

	c.ApplyStatus(status.Map{
		"gone.txt": {Path: "gone.txt", Kind: status.Deleted},
	})

	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	n := find(nodes, "gone.txt")
	if n == nil {
		t.Fatalf("expected virtual node, got %v", names(nodes))
	}
	if !n.Virtual || n.Status != status.Deleted || n.IsDir {
		t.Fatalf("unexpected virtual node: %+v", n)
	}
}

func TestChildren_RealEntryWinsNameCollision(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	// file restored on disk while the map still says deleted
	write(t, filepath.Join(root, "back.txt"), "restored")

	c.ApplyStatus(status.Map{
		"back.txt": {Path: "back.txt", Kind: status.Deleted},
	})

	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	var count int
	for _, n := range nodes {
		if n.Name == "back.txt" {
			count++
			if n.Virtual {
				t.Fatalf("real entry must win, got virtual: %+v", n)
			}
		}
	}
	if count != 1 {
		t.Fatalf("want exactly one back.txt, got %d", count)
	}
}

func TestChildren_DeletedSubtreeNavigable(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()

	// src was deleted wholesale: nothing on disk, everything in the map
	c.ApplyStatus(status.Map{
		"src":       {Path: "src", Kind: status.Modified, Dir: true},
		"src/a.txt": {Path: "src/a.txt", Kind: status.Deleted},
	})

	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	dir := find(nodes, "src")
	if dir == nil || !dir.IsDir || !dir.Virtual {
		t.Fatalf("expected virtual src dir, got %v", names(nodes))
	}
	sub, err := c.Children(dir.Path)
	if err != nil {
		t.Fatalf("listing a deleted subtree should not fail: %v", err)
	}
	if n := find(sub, "a.txt"); n == nil || !n.Virtual || n.Status != status.Deleted {
		t.Fatalf("expected virtual deleted a.txt, got %v", names(sub))
	}
}

func TestChildren_NoDuplicateIdentitiesUnderPressure(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	for i := 0; i < 5; i++ {
		write(t, filepath.Join(root, "dir", string(rune('a'+i))+".txt"), "x")
	}
	m1 := status.Map{
		"dir/a.txt": {Path: "dir/a.txt", Kind: status.Modified},
		"dir":       {Path: "dir", Kind: status.Modified, Dir: true},
	}
	m2 := status.Map{
		"dir/a.txt": {Path: "dir/a.txt", Kind: status.Deleted},
		"dir/z.txt": {Path: "dir/z.txt", Kind: status.Deleted},
		"dir":       {Path: "dir", Kind: status.Modified, Dir: true},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				c.ApplyStatus(m1)
			} else {
				c.ApplyStatus(m2)
			}
		}
	}()

	dir := filepath.Join(root, "dir")
	for i := 0; i < 200; i++ {
		nodes, err := c.Children(dir)
		if err != nil {
			t.Fatalf("Children error: %v", err)
		}
		seen := map[string]bool{}
		for _, n := range nodes {
			if seen[n.Path] {
				t.Fatalf("duplicate node identity %q in %v", n.Path, names(nodes))
			}
			seen[n.Path] = true
		}
	}
	close(stop)
	wg.Wait()
}

func TestChildren_ConcurrentLoadsJoin(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "f.txt"), "x")

	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nodes, err := c.Children(root)
			if err != nil || len(nodes) != 1 {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if failures.Load() != 0 {
		t.Fatal("concurrent loads disagreed")
	}
}

func TestApplyStatus_ContentChangePreservesStructure(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "f.txt"), "x")

	c.ApplyStatus(status.Map{
		"f.txt": {Path: "f.txt", Kind: status.Modified},
	})
	if _, err := c.Children(root); err != nil {
		t.Fatal(err)
	}

	// Remove the file from disk. A content-only status change keeps the
	// cached structure, so the listing still shows it.
	if err := os.Remove(filepath.Join(root, "f.txt")); err != nil {
		t.Fatal(err)
	}
	c.ApplyStatus(status.Map{
		"f.txt": {Path: "f.txt", Kind: status.Renamed, OldPath: "old.txt"},
	})
	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	n := find(nodes, "f.txt")
	if n == nil {
		t.Fatal("structural cache should have been preserved")
	}
	if n.Status != status.Renamed {
		t.Fatalf("cached node status should be patched, got %v", n.Status)
	}
}

func TestApplyStatus_NeverWritesToBorrowedNodes(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "f.txt"), "x")

	c.ApplyStatus(status.Map{
		"f.txt": {Path: "f.txt", Kind: status.Modified},
	})
	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	n := find(nodes, "f.txt")
	if n == nil || n.Status != status.Modified {
		t.Fatalf("unexpected initial listing: %v", names(nodes))
	}

	// Read the borrowed node while content-only updates flow in. The
	// race detector fails this test if a patch writes to it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if n.Status != status.Modified {
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		kind := status.Modified
		if i%2 == 1 {
			kind = status.Renamed
		}
		c.ApplyStatus(status.Map{
			"f.txt": {Path: "f.txt", Kind: kind, OldPath: "old.txt"},
		})
	}
	<-done

	if n.Status != status.Modified {
		t.Fatalf("borrowed node mutated, got %v", n.Status)
	}
	// A fresh listing carries the latest status.
	latest, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if ln := find(latest, "f.txt"); ln == nil || ln.Status != status.Renamed {
		t.Fatalf("fresh listing not patched: %v", names(latest))
	}
}

func TestApplyStatus_StructuralChangeInvalidates(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "f.txt"), "x")

	c.ApplyStatus(status.Map{})
	if _, err := c.Children(root); err != nil {
		t.Fatal(err)
	}

	write(t, filepath.Join(root, "new.txt"), "y")
	c.ApplyStatus(status.Map{
		"new.txt": {Path: "new.txt", Kind: status.Untracked},
	})
	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if find(nodes, "new.txt") == nil {
		t.Fatalf("structural change should rebuild listing, got %v", names(nodes))
	}
}

func TestApplyStatus_FiresNotifierOnce(t *testing.T) {
	c := newTestCache(t)
	var fired atomic.Int64
	c.SetNotifier(func(string) { fired.Add(1) })

	c.ApplyStatus(status.Map{
		"f.txt": {Path: "f.txt", Kind: status.Modified},
	})
	if got := fired.Load(); got != 1 {
		t.Fatalf("want exactly 1 tree event, got %d", got)
	}
}

func TestViewChanged_FiltersToChangedPathsAndAncestors(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "deep", "nest", "mod.txt"), "m")
	write(t, filepath.Join(root, "deep", "nest", "plain.txt"), "p")
	write(t, filepath.Join(root, "calm", "other.txt"), "o")

	c.SetViewMode(ViewChanged)
	c.ApplyStatus(status.Map{
		"deep/nest/mod.txt": {Path: "deep/nest/mod.txt", Kind: status.Modified},
		"deep/nest":         {Path: "deep/nest", Kind: status.Modified, Dir: true},
		"deep":              {Path: "deep", Kind: status.Modified, Dir: true},
	})

	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if find(nodes, "deep") == nil {
		t.Fatalf("ancestor chain must stay visible, got %v", names(nodes))
	}
	if find(nodes, "calm") != nil {
		t.Fatalf("unchanged dir must be filtered, got %v", names(nodes))
	}

	sub, err := c.Children(filepath.Join(root, "deep", "nest"))
	if err != nil {
		t.Fatal(err)
	}
	if find(sub, "mod.txt") == nil || find(sub, "plain.txt") != nil {
		t.Fatalf("changed-only listing wrong: %v", names(sub))
	}
}

func TestViewToggle_DeletedFileStaysVisible(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "kept.txt"), "k")

	m := status.Map{
		"gone.txt": {Path: "gone.txt", Kind: status.Deleted},
	}
	c.ApplyStatus(m)

	for i := 0; i < 4; i++ {
		mode := ViewAll
		if i%2 == 0 {
			mode = ViewChanged
		}
		c.SetViewMode(mode)
		nodes, err := c.Children(root)
		if err != nil {
			t.Fatal(err)
		}
		n := find(nodes, "gone.txt")
		if n == nil || n.Status != status.Deleted {
			t.Fatalf("deleted file missing after toggle %d: %v", i, names(nodes))
		}
	}
}

func TestRefreshNode_SingleEventTargeting(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "src", "a.txt"), "a")

	var events []string
	var mu sync.Mutex
	c.SetNotifier(func(target string) {
		mu.Lock()
		events = append(events, target)
		mu.Unlock()
	})

	// Track src by listing the root.
	if _, err := c.Children(root); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(root, "src")
	c.RefreshNode(src)
	mu.Lock()
	if len(events) != 1 || events[0] != src {
		t.Fatalf("want one event targeting %q, got %v", src, events)
	}
	events = nil
	mu.Unlock()

	// Unknown deep path resolves to the nearest tracked ancestor.
	if _, err := c.Children(root); err != nil {
		t.Fatal(err)
	}
	c.RefreshNode(filepath.Join(src, "ghost", "x.txt"))
	mu.Lock()
	if len(events) != 1 || events[0] != src {
		t.Fatalf("want one event targeting ancestor %q, got %v", src, events)
	}
	events = nil
	mu.Unlock()

	// Path outside the repo falls back to a full refresh.
	c.RefreshNode("/definitely/elsewhere")
	mu.Lock()
	if len(events) != 1 || events[0] != "" {
		t.Fatalf("want one root-targeted event, got %v", events)
	}
	events = nil
	mu.Unlock()

	// A sibling directory sharing the root's name prefix is outside too.
	c.RefreshNode(root + "-sibling/file.txt")
	mu.Lock()
	if len(events) != 1 || events[0] != "" {
		t.Fatalf("sibling prefix path should fall back to root, got %v", events)
	}
	mu.Unlock()
}

func TestClearCache_DropsListings(t *testing.T) {
	c := newTestCache(t)
	root := c.Root()
	write(t, filepath.Join(root, "f.txt"), "x")
	if _, err := c.Children(root); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "f.txt")); err != nil {
		t.Fatal(err)
	}
	c.ClearCache()
	nodes, err := c.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if find(nodes, "f.txt") != nil {
		t.Fatalf("cache should have been cleared, got %v", names(nodes))
	}
}
