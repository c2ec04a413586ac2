package watch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/interpretive-systems/branchview/internal/refresh"
)

func TestIsIgnored(t *testing.T) {
	cases := []struct {
		p    string
		want bool
	}{
		{"/repo/.git/config", true},
		{"/repo/node_modules/pkg/index.js", true},
		{"/repo/dist/app.js", true},
		{"/repo/build/app", true},
		{"/repo/.cache/tmp", true},
		{"/repo/src/main.go", false},
		{"/repo/distill/notes.md", false},
	}
	for _, tc := range cases {
		if got := isIgnored(tc.p); got != tc.want {
			t.Fatalf("isIgnored(%q)=%v want %v", tc.p, got, tc.want)
		}
	}
}

func TestSchedule_DebouncesBursts(t *testing.T) {
	var fired atomic.Int64
	var last atomic.Value
	s := New(func(src refresh.Source) {
		fired.Add(1)
		last.Store(src)
	}, 30*time.Millisecond, nil)

	for i := 0; i < 20; i++ {
		s.schedule()
	}
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("burst should collapse to 1 trigger, got %d", got)
	}
	if got := last.Load(); got != refresh.SourceFileWatcher {
		t.Fatalf("want file-watcher source, got %v", got)
	}

	// A later burst fires again.
	s.schedule()
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 2 {
		t.Fatalf("second burst should fire, got %d", got)
	}
}
