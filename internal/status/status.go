package status

// Kind classifies how a path differs from the comparison base.
type Kind uint8

const (
	None Kind = iota
	Ignored
	Untracked
	Modified
	Copied
	Renamed
	Added
	Deleted
	Conflicted
)

// Priority orders kinds for merging: when two classifications land on the
// same path the higher priority wins, ties keep the existing one.
func (k Kind) Priority() int {
	switch k {
	case Conflicted:
		return 6
	case Deleted:
		return 5
	case Added:
		return 4
	case Renamed, Copied:
		return 3
	case Modified, Untracked:
		return 2
	case Ignored:
		return 1
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case Untracked:
		return "untracked"
	case Modified:
		return "modified"
	case Copied:
		return "copied"
	case Renamed:
		return "renamed"
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Conflicted:
		return "conflicted"
	default:
		return "none"
	}
}

// Entry is the classification of one repo-relative path.
type Entry struct {
	Path    string
	Kind    Kind
	OldPath string // previous path for renames and copies
	Dir     bool   // entry derived for a directory rather than a file
}

// Map is one refresh cycle's truth: repo-relative path to entry.
// A published map is immutable; the next refresh replaces it wholesale.
type Map map[string]Entry

// Merge sets e on its path unless an existing entry has equal or higher
// priority, so ties keep the earlier classification.
func (m Map) Merge(e Entry) {
	if cur, ok := m[e.Path]; ok && cur.Kind.Priority() >= e.Kind.Priority() {
		return
	}
	m[e.Path] = e
}
