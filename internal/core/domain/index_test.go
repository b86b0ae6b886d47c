package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeVersionID_OrderIndependent(t *testing.T) {
	a := ComputeVersionID([]string{"c1.00001", "c1.00000", "c1.00002"})
	b := ComputeVersionID([]string{"c1.00002", "c1.00001", "c1.00000"})
	c := ComputeVersionID([]string{"c1.00000", "c1.00001", "c1.00002", "c1.00001"})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 34)
}

func TestComputeVersionID_DistinctSets(t *testing.T) {
	a := ComputeVersionID([]string{"c1.00000", "c1.00001"})
	b := ComputeVersionID([]string{"c1.00000"})
	// A separator keeps concatenations from colliding.
	c := ComputeVersionID([]string{"c1.0000", "0c1.00001"})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestVersionKeys(t *testing.T) {
	assert.Equal(t, "indexes/v-abc/index.bin", IndexKey("v-abc"))
	assert.Equal(t, "indexes/v-abc/metadata.bin", MetadataKey("v-abc"))
	assert.Equal(t, "indexes/v-abc/", VersionPrefix("v-abc"))
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedUnique([]string{"c", "a", "b", "a"}))
	assert.Empty(t, SortedUnique(nil))
}
