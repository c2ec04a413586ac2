package tree

import (
	"path/filepath"

	"github.com/interpretive-systems/branchview/internal/status"
)

// ViewMode selects which nodes a listing includes.
type ViewMode int

const (
	// ViewAll lists every filesystem entry plus virtual deleted nodes.
	ViewAll ViewMode = iota
	// ViewChanged lists only changed paths and the ancestor directories
	// needed to reach them.
	ViewChanged
)

// Node is one entry handed to the UI. Its identity is the absolute
// path: a listing must never contain two nodes with the same Path.
type Node struct {
	Path   string // absolute
	Name   string
	Parent string // absolute path of the containing directory
	IsDir  bool
	// Virtual marks a node that exists only in the status map: a path
	// deleted from the working tree but present in the comparison base.
	Virtual bool
	Status  status.Kind // status.None when unchanged
}

func newNode(parent, name string, isDir bool, st status.Kind) *Node {
	return &Node{
		Path:   filepath.Join(parent, name),
		Name:   name,
		Parent: parent,
		IsDir:  isDir,
		Status: st,
	}
}

func newVirtualNode(parent, name string) *Node {
	n := newNode(parent, name, false, status.Deleted)
	n.Virtual = true
	return n
}
