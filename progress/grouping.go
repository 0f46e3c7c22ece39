// Package progress maps the collected test set onto a bounded rendering
// surface. Tests are grouped by source file, long groups are split over
// continuation rows, and when the file grouping needs more rows than the
// surface has, grouping falls back to parent directories.
package progress

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/testpipe/testpipe/types"
)

const (
	// minChunk is the smallest member count a split chunk may hold, so a
	// very narrow surface still gets usable rows.
	minChunk = 30

	// horizontalChrome is the fixed column budget around each row's
	// indicator run (percentage column, separators, padding).
	horizontalChrome = 9

	// verticalChrome is the fixed row budget around the group rows (header,
	// totals, separators).
	verticalChrome = 6

	// defaultLabelWidth is assumed when there are no groups yet.
	defaultLabelWidth = 10
)

// Group is one display row: a stable key, a display label (empty for
// continuation chunks), and the member tests in collection order.
type Group struct {
	Name  string
	Label string
	IDs   []types.NodeID
}

// Mapper assigns every NodeID to a display group for a given surface size.
// It is immutable once built; rebuild it when the surface resizes or a run
// starts with a different test set.
type Mapper struct {
	Groups []Group

	nodeToGroup map[string]string
	byName      map[string]int
}

// NewMapper builds the grouping for the given surface dimensions and test
// set. IDs must carry the run's root path so files group relative to the
// project.
func NewMapper(width, height int, ids []types.NodeID) *Mapper {
	m := &Mapper{}

	m.build(ids, width, func(id types.NodeID) string { return id.File() })

	// Too many file groups for the surface: regroup by directory.
	maxRows := height - verticalChrome
	if maxRows < 1 {
		maxRows = 1
	}
	if len(m.Groups) > maxRows {
		m.build(ids, width, func(id types.NodeID) string { return id.Dir() })
	}

	m.sortGroups()
	return m
}

// build groups ids by the key function and splits oversized groups,
// replacing any previous grouping.
func (m *Mapper) build(ids []types.NodeID, width int, key func(types.NodeID) string) {
	m.nodeToGroup = make(map[string]string)

	groups := make(map[string]*Group)
	var order []string
	for _, id := range ids {
		name := key(id)
		g, ok := groups[name]
		if !ok {
			g = &Group{Name: name, Label: name}
			groups[name] = g
			order = append(order, name)
		}
		g.IDs = append(g.IDs, id)
		m.nodeToGroup[id.Raw] = name
	}

	m.Groups = make([]Group, 0, len(order))
	for _, name := range order {
		m.Groups = append(m.Groups, *groups[name])
	}

	m.splitLongGroups(width)
}

// splitLongGroups splits any group that cannot fit on one row into ordered
// chunks. The first chunk keeps the group's name and label; continuations
// are named "name[N]" with an empty label.
func (m *Mapper) splitLongGroups(width int) {
	space := width - m.labelWidth() - horizontalChrome
	if space < minChunk {
		space = minChunk
	}

	out := make([]Group, 0, len(m.Groups))
	for _, g := range m.Groups {
		if len(g.IDs) <= space {
			out = append(out, g)
			continue
		}
		rest := g.IDs
		for n := 1; len(rest) > 0; n++ {
			chunk := rest
			if len(chunk) > space {
				chunk = chunk[:space]
			}
			rest = rest[len(chunk):]

			sub := Group{IDs: chunk}
			if n == 1 {
				sub.Name = g.Name
				sub.Label = g.Label
			} else {
				sub.Name = g.Name + "[" + strconv.Itoa(n) + "]"
			}
			for _, id := range chunk {
				m.nodeToGroup[id.Raw] = sub.Name
			}
			out = append(out, sub)
		}
	}
	m.Groups = out
}

// labelWidth is the column width needed for the current group names.
func (m *Mapper) labelWidth() int {
	w := 0
	for _, g := range m.Groups {
		if len(g.Name) > w {
			w = len(g.Name)
		}
	}
	if w == 0 {
		return defaultLabelWidth
	}
	return w
}

var contSuffix = regexp.MustCompile(`^(.*)\[(\d+)\]$`)

// sortKey splits a trailing numeric continuation suffix into a separate sort
// component, so "a[2]" sorts after "a" and before "a[10]".
func sortKey(name string) (string, int) {
	if mm := contSuffix.FindStringSubmatch(name); mm != nil {
		if n, err := strconv.Atoi(mm[2]); err == nil {
			return mm[1], n
		}
	}
	return name, 0
}

func (m *Mapper) sortGroups() {
	sort.SliceStable(m.Groups, func(i, j int) bool {
		bi, ni := sortKey(m.Groups[i].Name)
		bj, nj := sortKey(m.Groups[j].Name)
		if bi != bj {
			return bi < bj
		}
		return ni < nj
	})
	m.byName = make(map[string]int, len(m.Groups))
	for i := range m.Groups {
		m.byName[m.Groups[i].Name] = i
	}
}

// GroupFor returns the display group name for a test.
func (m *Mapper) GroupFor(id types.NodeID) (string, bool) {
	name, ok := m.nodeToGroup[id.Raw]
	return name, ok
}

// Members returns the tests in the group containing the given test.
func (m *Mapper) Members(id types.NodeID) []types.NodeID {
	name, ok := m.nodeToGroup[id.Raw]
	if !ok {
		return nil
	}
	if i, ok := m.byName[name]; ok {
		return m.Groups[i].IDs
	}
	return nil
}
