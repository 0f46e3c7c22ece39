package progress

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpipe/testpipe/types"
)

func ids(nodeids ...string) []types.NodeID {
	out := make([]types.NodeID, 0, len(nodeids))
	for _, raw := range nodeids {
		out = append(out, types.NewNodeID(raw, ""))
	}
	return out
}

func groupNames(m *Mapper) []string {
	names := make([]string, 0, len(m.Groups))
	for _, g := range m.Groups {
		names = append(names, g.Name)
	}
	return names
}

func TestMapper_GroupsByFile(t *testing.T) {
	m := NewMapper(80, 24, ids(
		"tests/test_a.py::test_one",
		"tests/test_a.py::test_two",
		"tests/test_b.py::test_three",
	))

	assert.Equal(t, []string{"tests/test_a.py", "tests/test_b.py"}, groupNames(m))

	name, ok := m.GroupFor(types.NewNodeID("tests/test_a.py::test_two", ""))
	require.True(t, ok)
	assert.Equal(t, "tests/test_a.py", name)
	assert.Len(t, m.Members(types.NewNodeID("tests/test_a.py::test_one", "")), 2)
}

func TestMapper_SplitsLongGroups(t *testing.T) {
	// 200 tests in one file on an 80x24 surface. The 21-character group name
	// leaves 80-21-9 = 50 slots per row, so the group splits into 4 chunks.
	const file = "tests/test_edit___.py"
	require.Len(t, file, 21)

	var nodeids []string
	for i := 0; i < 200; i++ {
		nodeids = append(nodeids, fmt.Sprintf("%s::test_%03d", file, i))
	}
	m := NewMapper(80, 24, ids(nodeids...))

	assert.Equal(t, []string{
		file,
		file + "[2]",
		file + "[3]",
		file + "[4]",
	}, groupNames(m))

	// Only the first chunk keeps the display label.
	assert.Equal(t, file, m.Groups[0].Label)
	assert.Empty(t, m.Groups[1].Label)
	assert.Empty(t, m.Groups[3].Label)

	// Chunks hold 50 members each, in collection order.
	for _, g := range m.Groups {
		assert.Len(t, g.IDs, 50)
	}
	assert.Equal(t, file+"::test_000", m.Groups[0].IDs[0].Raw)
	assert.Equal(t, file+"::test_050", m.Groups[1].IDs[0].Raw)

	// Member lookup follows a test into its chunk.
	name, ok := m.GroupFor(types.NewNodeID(file+"::test_199", ""))
	require.True(t, ok)
	assert.Equal(t, file+"[4]", name)
}

func TestMapper_ContinuationNumericSort(t *testing.T) {
	// With enough chunks, [10] must sort after [9], not after [1].
	const file = "tests/test_edit___.py"
	var nodeids []string
	for i := 0; i < 550; i++ {
		nodeids = append(nodeids, fmt.Sprintf("%s::test_%03d", file, i))
	}
	m := NewMapper(80, 24, ids(nodeids...))

	names := groupNames(m)
	require.Len(t, names, 11)
	assert.Equal(t, file, names[0])
	assert.Equal(t, file+"[2]", names[1])
	assert.Equal(t, file+"[9]", names[8])
	assert.Equal(t, file+"[10]", names[9])
	assert.Equal(t, file+"[11]", names[10])
}

func TestMapper_DirectoryFallback(t *testing.T) {
	// More files than display rows: grouping falls back to the parent
	// directory.
	var nodeids []string
	for i := 0; i < 30; i++ {
		nodeids = append(nodeids, fmt.Sprintf("pkg/test_%02d.py::test_one", i))
	}
	m := NewMapper(120, 24, ids(nodeids...))

	require.Len(t, m.Groups, 1)
	assert.Equal(t, "pkg", m.Groups[0].Name)
	assert.Len(t, m.Groups[0].IDs, 30)
}

func TestMapper_MinimumChunkOnNarrowSurface(t *testing.T) {
	var nodeids []string
	for i := 0; i < 60; i++ {
		nodeids = append(nodeids, fmt.Sprintf("t.py::test_%02d", i))
	}
	// Surface so narrow the computed space goes below the floor.
	m := NewMapper(20, 24, ids(nodeids...))

	require.Len(t, m.Groups, 2)
	assert.Len(t, m.Groups[0].IDs, 30)
	assert.Len(t, m.Groups[1].IDs, 30)
}

func TestMapper_SortByName(t *testing.T) {
	m := NewMapper(80, 24, ids(
		"b_test.py::test_one",
		"a_test.py::test_one",
		"c_test.py::test_one",
	))
	assert.Equal(t, []string{"a_test.py", "b_test.py", "c_test.py"}, groupNames(m))
}

func TestMapper_RootRelativeGrouping(t *testing.T) {
	nodeids := []types.NodeID{
		types.NewNodeID("/proj/tests/test_a.py::test_one", "/proj"),
		types.NewNodeID("/proj/tests/test_a.py::test_two", "/proj"),
	}
	m := NewMapper(80, 24, nodeids)

	require.Len(t, m.Groups, 1)
	assert.Equal(t, "tests/test_a.py", m.Groups[0].Name)
	assert.False(t, strings.HasPrefix(m.Groups[0].Name, "/"))
}
