// Package diffengine wraps the diff-match-patch library behind the small
// surface the sync core needs: text patches, best-effort application and
// short content fingerprints.
package diffengine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MakePatch produces a text patch transforming old into new, in the
// library's native hunk format.
func MakePatch(old, new string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(old, new)
	return dmp.PatchToText(patches)
}

// ApplyPatch applies a text patch to doc. ok is true iff every hunk applied
// cleanly; on partial apply the result is best-effort and ok is false.
func ApplyPatch(patch, doc string) (string, bool) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patch)
	if err != nil {
		return doc, false
	}
	result, applied := dmp.PatchApply(patches, doc)
	ok := true
	for _, a := range applied {
		if !a {
			ok = false
		}
	}
	return result, ok
}

// ApplyPatchReverse applies the inverse of a text patch to doc, restoring
// the pre-patch content when doc matches the patch's post state.
func ApplyPatchReverse(patch, doc string) (string, bool) {
	return ApplyPatch(invertPatchText(patch), doc)
}

// patchHunkHeader matches one hunk header line of the library's patch text.
// Either range prints as `start` or `start,length`.
var patchHunkHeader = regexp.MustCompile(`^@@ -(\d+(?:,\d+)?) \+(\d+(?:,\d+)?) @@$`)

// invertPatchText swaps the two sides of every hunk in a serialized patch:
// headers exchange their old/new ranges and +/- line prefixes flip. The
// result is a valid patch text transforming the post state back into the
// pre state. Context lines and the percent-encoded payload are untouched.
func invertPatchText(patch string) string {
	lines := strings.Split(patch, "\n")
	for i, line := range lines {
		if m := patchHunkHeader.FindStringSubmatch(line); m != nil {
			lines[i] = fmt.Sprintf("@@ -%s +%s @@", m[2], m[1])
			continue
		}
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			lines[i] = "-" + line[1:]
		case '-':
			lines[i] = "+" + line[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// Fingerprint returns the first 64 bits of SHA-256 of the UTF-8 bytes as
// 16 hex chars. Used as the opaque version identifier throughout.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// HasChanged filters no-op saves.
func HasChanged(a, b string) bool {
	return Fingerprint(a) != Fingerprint(b)
}
