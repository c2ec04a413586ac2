package prefs

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prefs represents persisted per-repository settings.
type Prefs struct {
	SourceBranch string
	ChangedOnly  bool
	// StrictMergeBase propagates merge-base failures instead of falling
	// back to the target ref. Useful on shallow or grafted clones where
	// the fallback silently compares against the wrong baseline.
	StrictMergeBase bool
	// ExistenceDegrade treats failed batched existence checks as
	// "path absent" rather than failing the refresh.
	ExistenceDegrade bool
	DebounceMs       int // 0 means unset
}

const (
	keySourceBranch     = "branchview.sourceBranch"
	keyChangedOnly      = "branchview.changedOnly"
	keyStrictMergeBase  = "branchview.strictMergeBase"
	keyExistenceDegrade = "branchview.existenceDegrade"
	keyDebounceMs       = "branchview.debounceMs"
)

// Load reads preferences from git local config.
func Load(repoRoot string) Prefs {
	p := Prefs{ExistenceDegrade: true}
	if s, ok := get(repoRoot, keySourceBranch); ok && s != "" {
		p.SourceBranch = s
	}
	if s, ok := get(repoRoot, keyChangedOnly); ok {
		p.ChangedOnly = parseBool(s)
	}
	if s, ok := get(repoRoot, keyStrictMergeBase); ok {
		p.StrictMergeBase = parseBool(s)
	}
	if s, ok := get(repoRoot, keyExistenceDegrade); ok {
		p.ExistenceDegrade = parseBool(s)
	}
	if s, ok := get(repoRoot, keyDebounceMs); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			p.DebounceMs = n
		}
	}
	return p
}

// SaveSourceBranch persists the comparison branch.
func SaveSourceBranch(repoRoot, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty branch name")
	}
	return set(repoRoot, keySourceBranch, name)
}

// SaveChangedOnly persists the view-mode pref.
func SaveChangedOnly(repoRoot string, v bool) error {
	return set(repoRoot, keyChangedOnly, boolStr(v))
}

func get(repoRoot, key string) (string, bool) {
	cmd := exec.Command("git", "-C", repoRoot, "config", "--get", key)
	b, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func set(repoRoot, key, value string) error {
	cmd := exec.Command("git", "-C", repoRoot, "config", "--local", key, value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git config %s: %w: %s", key, err, string(out))
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
