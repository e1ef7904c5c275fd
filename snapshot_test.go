package netsim

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIndexSearch(t *testing.T) {
	si := CreateSnapshotIndex(4)
	si.Insert("backup", "snap_1.yaml")
	si.Insert("golden", "snap_2.yaml")

	value, found := si.Search("backup")
	require.True(t, found)
	assert.Equal(t, "snap_1.yaml", value)

	_, found = si.Search("missing")
	assert.False(t, found)
}

func TestSnapshotIndexRootSplit(t *testing.T) {
	// order 4: nodes hold up to 7 keys.  The eighth insertion finds the
	// root full, splits it, and the height grows exactly once.
	si := CreateSnapshotIndex(4)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for idx, key := range keys {
		si.Insert(key, fmt.Sprintf("v%d", idx))
	}

	stats := si.Stats()
	assert.Equal(t, 1, stats.Splits)
	assert.Equal(t, 2, stats.Height)
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 0, stats.Merges)

	for idx, key := range keys {
		value, found := si.Search(key)
		require.True(t, found, "key %s lost after split", key)
		assert.Equal(t, fmt.Sprintf("v%d", idx), value)
	}

	// filling a leaf and overflowing it produces a second split with no
	// further height growth
	for _, key := range []string{"i", "j", "k", "l"} {
		si.Insert(key, key)
	}
	stats = si.Stats()
	assert.Equal(t, 2, stats.Splits)
	assert.Equal(t, 2, stats.Height)
}

func TestSnapshotIndexInOrder(t *testing.T) {
	si := CreateSnapshotIndex(4)
	keys := []string{"mango", "apple", "zebra", "kiwi", "banana", "fig", "pear", "date", "cherry", "lime"}
	for _, key := range keys {
		si.Insert(key, key+".yaml")
	}

	entries := si.InOrder()
	require.Len(t, entries, len(keys))

	sorted := append([]string{}, keys...)
	sort.Strings(sorted)
	for idx, key := range sorted {
		assert.Equal(t, key, entries[idx].Key)
		assert.Equal(t, key+".yaml", entries[idx].Value)
	}
}

func TestSnapshotIndexDuplicateKeys(t *testing.T) {
	// duplicate keys are kept as separate entries, insertion order
	// preserved among equals; search returns the first met on descent
	si := CreateSnapshotIndex(4)
	si.Insert("cfg", "first.yaml")
	si.Insert("cfg", "second.yaml")

	entries := si.InOrder()
	require.Len(t, entries, 2)
	assert.Equal(t, "first.yaml", entries[0].Value)
	assert.Equal(t, "second.yaml", entries[1].Value)

	value, found := si.Search("cfg")
	require.True(t, found)
	assert.Equal(t, "first.yaml", value)
}

func TestSnapshotIndexManyKeysStaysSearchable(t *testing.T) {
	si := CreateSnapshotIndex(4)
	for idx := 0; idx < 200; idx++ {
		si.Insert(fmt.Sprintf("key%03d", idx), fmt.Sprintf("file%03d", idx))
	}

	for idx := 0; idx < 200; idx++ {
		value, found := si.Search(fmt.Sprintf("key%03d", idx))
		require.True(t, found)
		assert.Equal(t, fmt.Sprintf("file%03d", idx), value)
	}
	assert.GreaterOrEqual(t, si.Stats().Height, 2)
}

func TestSaveLoadSnapshot(t *testing.T) {
	dir := t.TempDir()

	net := CreateNetwork("snaptest")
	dev, err := net.AddDev("r1", "router")
	require.NoError(t, err)
	intrfc, err := dev.AddIntrfc("g0")
	require.NoError(t, err)
	intrfc.SetAddr("10.0.0.1")
	intrfc.NoShutdown()

	dev.RouteIndex().Insert("10.0.1.0", "255.255.255.0", "10.0.0.2", 1)
	dev.RouteIndex().Insert("10.0.2.0", "255.255.255.0", "10.0.0.3", 2)
	dev.PolicyTrie().SetPolicy("10.0.2.0", "255.255.255.0", PolicyBlock, true)

	filename, err := dev.SaveSnapshot("golden", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, filename))

	indexed, found := dev.SnapshotIndex().Search("golden")
	require.True(t, found)
	assert.Equal(t, filename, indexed)

	// wreck the route table and policies, then restore from the snapshot
	dev.RouteIndex().Delete("10.0.1.0", "255.255.255.0")
	dev.RouteIndex().Insert("172.16.0.0", "255.255.0.0", "10.0.0.9", 5)
	dev.PolicyTrie().SetPolicy("10.0.0.0", "255.0.0.0", PolicyTTLMin, 9)

	require.NoError(t, dev.LoadSnapshot("golden", dir))

	routes := dev.RouteIndex().InOrder()
	require.Len(t, routes, 2)
	assert.Equal(t, "10.0.1.0", routes[0].Prefix)
	assert.Equal(t, "10.0.0.2", routes[0].NextHop)
	assert.Equal(t, "10.0.2.0", routes[1].Prefix)

	policies := dev.PolicyTrie().PrefixPolicies()
	require.Len(t, policies, 1)
	assert.Equal(t, map[string]any{PolicyBlock: true}, policies["10.0.2.0/24"])
}

func TestLoadSnapshotMissingKey(t *testing.T) {
	net := CreateNetwork("snaptest")
	dev, err := net.AddDev("r1", "router")
	require.NoError(t, err)

	require.Error(t, dev.LoadSnapshot("absent", t.TempDir()))

	// the failure lands in the error log, not a panic
	logged := dev.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "LoadError", logged[0].Kind)
}

func TestSnapshotDescRoundTrip(t *testing.T) {
	dir := t.TempDir()

	sd := &SnapshotDesc{
		Device:  "r1",
		DevType: "router",
		Online:  true,
		Routes: []RouteDesc{
			{Prefix: "10.0.1.0", Mask: "255.255.255.0", NextHop: "10.0.0.2", Metric: 1},
		},
		Policies: map[string]map[string]any{
			"10.0.2.0/24": {PolicyBlock: true},
		},
		Interfaces: []IntrfcSnapDesc{
			{Name: "g0", Addr: "10.0.0.1", Up: true},
		},
	}

	for _, name := range []string{"snap.yaml", "snap.json"} {
		full := filepath.Join(dir, name)
		require.NoError(t, sd.WriteToFile(full))

		useYAML := name == "snap.yaml"
		read, err := ReadSnapshotDesc(full, useYAML, nil)
		require.NoError(t, err)
		assert.Equal(t, sd, read)
	}
}
