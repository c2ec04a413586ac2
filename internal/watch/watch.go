package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/interpretive-systems/branchview/internal/refresh"
)

// Service watches one working tree and translates filesystem events
// into refresh triggers. Worktree edits debounce into a single
// file-watcher trigger; HEAD and merge-state changes under .git fire
// their own trigger kinds.
type Service struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	debounce time.Duration
	onChange func(refresh.Source)
	log      *zap.Logger
}

func New(onChange func(refresh.Source), debounce time.Duration, log *zap.Logger) *Service {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{onChange: onChange, debounce: debounce, log: log}
}

// Start begins watching root recursively plus the .git directory for
// branch and merge state changes.
func (s *Service) Start(root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	if err := addRecursive(watcher, root); err != nil {
		s.log.Warn("watcher setup incomplete", zap.String("root", root), zap.Error(err))
	}
	// .git itself is excluded from the recursive walk; watch just the
	// top level for HEAD and MERGE_HEAD.
	if err := watcher.Add(filepath.Join(root, ".git")); err != nil {
		s.log.Warn("cannot watch .git", zap.Error(err))
	}
	go s.observe(watcher, root)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	w := s.watcher
	t := s.timer
	s.watcher = nil
	s.timer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	if w != nil {
		_ = w.Close()
	}
}

func (s *Service) observe(w *fsnotify.Watcher, root string) {
	gitDir := filepath.Join(root, ".git")
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(ev.Name, gitDir+string(filepath.Separator)) {
				switch filepath.Base(ev.Name) {
				case "HEAD":
					s.fire(refresh.SourceBranchSwitch)
				case "MERGE_HEAD", "REBASE_HEAD":
					s.fire(refresh.SourceMerge)
				}
				continue
			}
			if isIgnored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(w, ev.Name)
				}
			}
			s.schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule collapses an event burst into one trigger after the
// debounce window.
func (s *Service) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.fire(refresh.SourceFileWatcher)
	})
}

func (s *Service) fire(src refresh.Source) {
	if s.onChange != nil {
		s.onChange(src)
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || isIgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		_ = w.Add(path)
		return nil
	})
}

func isIgnoredDir(name string) bool {
	switch name {
	case "node_modules", "dist", "build", ".cache":
		return true
	}
	return false
}

func isIgnored(path string) bool {
	sep := string(filepath.Separator)
	for _, part := range []string{".git", "node_modules", "dist", "build", ".cache"} {
		if strings.Contains(path, sep+part+sep) {
			return true
		}
	}
	return isIgnoredDir(filepath.Base(path))
}
