package diffproj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/src/app.py
+++ b/src/app.py
@@ -5,3 +5,3 @@
 alpha
-old_value = 1
+old_value = 2
 beta
@@ -18,2 +18,3 @@
 gamma
-delta
+delta_one
+delta_two
`

func TestParseHunks_Strict(t *testing.T) {
	ranges := ParseHunks(sampleDiff)
	require.Len(t, ranges, 2)
	assert.Equal(t, LineRange{Start: 5, End: 7}, ranges[0])
	assert.Equal(t, LineRange{Start: 18, End: 19}, ranges[1])
}

func TestParseHunks_LengthDefaultsToOne(t *testing.T) {
	diff := "--- a/f\n+++ b/f\n@@ -12 +12 @@\n-x\n+y\n"
	ranges := ParseHunks(diff)
	require.Len(t, ranges, 1)
	assert.Equal(t, LineRange{Start: 12, End: 12}, ranges[0])
}

func TestParseHunks_FallsBackOnImpreciseDiff(t *testing.T) {
	// New-side header is mangled and the body is short; the loose header
	// scan still recovers the source range.
	diff := "--- a/f\n+++ b/f\n@@ -10,2 +?? @@\n-only one line\n"
	ranges := ParseHunks(diff)
	require.Len(t, ranges, 1)
	assert.Equal(t, LineRange{Start: 10, End: 11}, ranges[0])
}

func TestParseHunks_EmptyDiff(t *testing.T) {
	assert.Empty(t, ParseHunks(""))
}

func TestParseHunks_RoundTrip(t *testing.T) {
	ranges := ParseHunks(sampleDiff)
	for _, r := range ranges {
		assert.True(t, Overlaps(r.Start, r.End, ranges))
	}
}

func TestOverlaps_BoundaryTouchCounts(t *testing.T) {
	ranges := []LineRange{{Start: 5, End: 7}}

	assert.True(t, Overlaps(3, 5, ranges), "touching at start")
	assert.True(t, Overlaps(7, 9, ranges), "touching at end")
	assert.True(t, Overlaps(6, 6, ranges), "contained")
	assert.True(t, Overlaps(1, 20, ranges), "containing")
	assert.False(t, Overlaps(1, 4, ranges))
	assert.False(t, Overlaps(8, 9, ranges))
}

func TestExtractPatchText_InRange(t *testing.T) {
	text := ExtractPatchText(sampleDiff, 5, 7)
	assert.Equal(t, "-old_value = 1\n+old_value = 2", text)
}

func TestExtractPatchText_OutOfRange(t *testing.T) {
	assert.Empty(t, ExtractPatchText(sampleDiff, 30, 40))
}

func TestExtractPatchText_NeverEmitsFileHeaders(t *testing.T) {
	text := ExtractPatchText(sampleDiff, 1, 100)
	assert.NotContains(t, text, "+++")
	assert.NotContains(t, text, "---")
	assert.NotContains(t, text, "alpha", "context lines are excluded")
}

func TestExtractPatchText_AddedLinesDoNotAdvanceCounter(t *testing.T) {
	// The removal sits at source line 19; both added lines then share
	// source position 20 because + lines never advance the counter.
	assert.Equal(t, "-delta", ExtractPatchText(sampleDiff, 19, 19))
	assert.Equal(t, "-delta\n+delta_one\n+delta_two", ExtractPatchText(sampleDiff, 19, 20))
	assert.Equal(t, "+delta_one\n+delta_two", ExtractPatchText(sampleDiff, 20, 20))
}

func TestFilePredicates(t *testing.T) {
	added := "--- /dev/null\n+++ b/new.py\n@@ -0,0 +1,2 @@\n+a\n+b\n"
	deleted := "--- a/old.py\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-a\n-b\n"

	assert.True(t, IsFileAdded(added))
	assert.False(t, IsFileDeleted(added))
	assert.True(t, IsFileDeleted(deleted))
	assert.False(t, IsFileAdded(deleted))
	assert.False(t, IsFileAdded(sampleDiff))
	assert.False(t, IsFileDeleted(sampleDiff))
}

func TestSourceSlice(t *testing.T) {
	text := "l1\nl2\nl3\nl4"
	assert.Equal(t, "l2\nl3", SourceSlice(text, 2, 3))
	assert.Equal(t, text, SourceSlice(text, 1, 10))
	assert.Empty(t, SourceSlice(text, 5, 4))
}
