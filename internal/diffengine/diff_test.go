package diffengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchRoundTrip(t *testing.T) {
	old := "line one\nline two\nline three\n"
	new := "line one\nline 2\nline three\nline four\n"

	patch := MakePatch(old, new)
	require.NotEmpty(t, patch)

	result, ok := ApplyPatch(patch, old)
	assert.True(t, ok)
	assert.Equal(t, new, result)
}

func TestApplyPatchEmptyPatch(t *testing.T) {
	doc := "unchanged\n"
	result, ok := ApplyPatch("", doc)
	assert.True(t, ok)
	assert.Equal(t, doc, result)
}

func TestApplyPatchMalformed(t *testing.T) {
	doc := "some content\n"
	result, ok := ApplyPatch("not a patch", doc)
	assert.False(t, ok)
	assert.Equal(t, doc, result)
}

func TestApplyPatchFuzzyContext(t *testing.T) {
	// the patch target drifted slightly; dmp still lands the hunk
	old := "alpha\nbeta\ngamma\ndelta\n"
	new := "alpha\nbeta2\ngamma\ndelta\n"
	patch := MakePatch(old, new)

	drifted := "alpha\nbeta\ngamma\ndelta\nepsilon\n"
	result, ok := ApplyPatch(patch, drifted)
	assert.True(t, ok)
	assert.Contains(t, result, "beta2")
	assert.Contains(t, result, "epsilon")
}

func TestApplyPatchReverse(t *testing.T) {
	old := "a\nb\nc\n"
	new := "a\nB\nc\nd\n"

	patch := MakePatch(old, new)
	restored, ok := ApplyPatchReverse(patch, new)
	require.True(t, ok)
	assert.Equal(t, old, restored)
}

func TestApplyPatchReverseOfInsertion(t *testing.T) {
	old := ""
	new := "fresh content\nwith lines\n"

	patch := MakePatch(old, new)
	restored, ok := ApplyPatchReverse(patch, new)
	require.True(t, ok)
	assert.Equal(t, old, restored)
}

func TestApplyPatchReverseMultiHunk(t *testing.T) {
	// edits far apart serialize as separate hunks; the inversion must
	// flip every one of them
	middle := strings.Repeat("context line\n", 30)
	old := "top original\n" + middle + "bottom original\n"
	new := "top changed\n" + middle + "bottom changed\n"

	patch := MakePatch(old, new)
	restored, ok := ApplyPatchReverse(patch, new)
	require.True(t, ok)
	assert.Equal(t, old, restored)
}

func TestInvertPatchTextSwapsSides(t *testing.T) {
	old := "keep\ndrop me\nkeep\n"
	new := "keep\nadded\nkeep\n"

	inverted := invertPatchText(MakePatch(old, new))
	back, ok := ApplyPatch(inverted, new)
	require.True(t, ok)
	assert.Equal(t, old, back)

	// inverting twice restores the forward patch's behavior
	again, ok := ApplyPatch(invertPatchText(inverted), old)
	require.True(t, ok)
	assert.Equal(t, new, again)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("hello world")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint("hello world"))
	assert.NotEqual(t, fp, Fingerprint("hello world!"))

	// the empty string has a fingerprint too
	assert.Len(t, Fingerprint(""), 16)
}

func TestFingerprintLargeInput(t *testing.T) {
	big := strings.Repeat("x", 1<<20)
	assert.Len(t, Fingerprint(big), 16)
}

func TestHasChanged(t *testing.T) {
	assert.False(t, HasChanged("same", "same"))
	assert.True(t, HasChanged("same", "different"))
}
