package types

import (
	"path"
	"strings"
)

// NodeID identifies one test across collection and execution. The raw form is
// "rel/path/to/file::Qualified::Name" where the leading portion is a file path
// and the remainder is the '::'-joined qualified test name. A NodeID also
// carries the run's root path so the file portion can be rendered relative to
// the project.
type NodeID struct {
	Raw  string
	Root string
}

// NewNodeID creates a NodeID for a raw identifier, interpreted against root.
func NewNodeID(raw string, root string) NodeID {
	return NodeID{Raw: raw, Root: root}
}

func (id NodeID) String() string {
	return id.Raw
}

// File returns the file portion of the identifier, relative to the root path
// when possible.
func (id NodeID) File() string {
	file, _, _ := strings.Cut(id.Raw, "::")
	return id.relativize(file)
}

// Dir returns the directory containing the test's source file, relative to the
// root path when possible.
func (id NodeID) Dir() string {
	return path.Dir(id.File())
}

// Components breaks the identifier into its three parts:
// the file path components, the leading qualified-name components (possibly
// empty) and the final name.
func (id NodeID) Components() (pathParts []string, qualParts []string, name string) {
	file, rest, found := strings.Cut(id.Raw, "::")
	pathParts = strings.Split(id.relativize(file), "/")
	if !found || rest == "" {
		return pathParts, nil, ""
	}
	qual := strings.Split(rest, "::")
	return pathParts, qual[:len(qual)-1], qual[len(qual)-1]
}

// Parts returns the concatenation of all components.
func (id NodeID) Parts() []string {
	pathParts, qualParts, name := id.Components()
	parts := make([]string, 0, len(pathParts)+len(qualParts)+1)
	parts = append(parts, pathParts...)
	parts = append(parts, qualParts...)
	if name != "" {
		parts = append(parts, name)
	}
	return parts
}

func (id NodeID) relativize(file string) string {
	if id.Root == "" {
		return file
	}
	root := strings.TrimSuffix(id.Root, "/") + "/"
	if strings.HasPrefix(file, root) {
		return strings.TrimPrefix(file, root)
	}
	return file
}
