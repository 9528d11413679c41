package relay

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

// hunkHeader matches the library's patch hunk headers of the form
// `@@ -a,b +c,d @@`, with either length optional.
var hunkHeader = regexp.MustCompile(`@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// hunkRange is the closed-inclusive new-side span of one hunk.
type hunkRange struct {
	start int
	end   int
}

// patchRanges extracts the new-side ranges from a patch text. A patch with
// zero hunks is treated as touching the full file.
func patchRanges(patch string) []hunkRange {
	matches := hunkHeader.FindAllStringSubmatch(patch, -1)
	if len(matches) == 0 {
		return []hunkRange{{start: 0, end: math.MaxInt}}
	}

	ranges := make([]hunkRange, 0, len(matches))
	for _, m := range matches {
		start, _ := strconv.Atoi(m[3])
		length := 1
		if m[4] != "" {
			length, _ = strconv.Atoi(m[4])
		}
		ranges = append(ranges, hunkRange{start: start, end: start + length - 1})
	}
	return ranges
}

// rangesOverlap reports whether any range of a intersects any range of b.
func rangesOverlap(a, b []hunkRange) bool {
	for _, ra := range a {
		for _, rb := range b {
			if ra.start <= rb.end && rb.start <= ra.end {
				return true
			}
		}
	}
	return false
}

// MergeVerdict is the conflict detector's decision for an incoming patch
// evaluated against the latest stored one.
type MergeVerdict struct {
	Merged       bool
	Event        *message.ConflictEvent
	ConflictFile string
}

// DetectConflict decides merge-safe vs conflict for incoming against
// existing. Both diffs are stored and broadcast either way; the relay never
// merges content itself.
func DetectConflict(existing, incoming *message.FileDiff) *MergeVerdict {
	if !rangesOverlap(patchRanges(existing.Patch), patchRanges(incoming.Patch)) {
		return &MergeVerdict{Merged: true}
	}

	conflictFile := conflictFileName(incoming.File, time.Now().UnixMilli())
	event := &message.ConflictEvent{
		File:         incoming.File,
		ConflictFile: conflictFile,
		AuthorA:      existing.Author,
		AuthorB:      incoming.Author,
		Timestamp:    time.Now().UnixMilli(),
	}
	return &MergeVerdict{Merged: false, Event: event, ConflictFile: conflictFile}
}

// conflictFileName synthesizes `<base>.conflict-<ts>.<ext>`, defaulting the
// extension to "ts" when the file has none.
func conflictFileName(file string, ts int64) string {
	ext := strings.TrimPrefix(path.Ext(file), ".")
	if ext == "" {
		ext = "ts"
	}
	base := strings.TrimSuffix(file, path.Ext(file))
	return fmt.Sprintf("%s.conflict-%d.%s", base, ts, ext)
}
