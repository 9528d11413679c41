package sync

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName holds project-local ignore rules, one gitignore pattern
// per line.
const ignoreFileName = ".partsyncignore"

// defaultIgnorePatterns are always excluded from syncing.
var defaultIgnorePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/*.db",
	"**/*.db-journal",
	"**/.DS_Store",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/.partsync/**",
}

// IgnoreList decides which relative paths are excluded from syncing.
// Defaults and the project ignore file use gitignore semantics, extra
// command line patterns use doublestar globs.
type IgnoreList struct {
	matcher *gitignore.GitIgnore
	globs   []string
}

func NewIgnoreList(dir string, extraGlobs []string) *IgnoreList {
	lines := make([]string, 0, len(defaultIgnorePatterns)+8)
	lines = append(lines, defaultIgnorePatterns...)

	if data, err := os.ReadFile(filepath.Join(dir, ignoreFileName)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
	}

	globs := make([]string, 0, len(extraGlobs))
	for _, g := range extraGlobs {
		if !doublestar.ValidatePattern(g) {
			slog.Warn("invalid ignore pattern, skipped", "pattern", g)
			continue
		}
		globs = append(globs, g)
	}

	return &IgnoreList{
		matcher: gitignore.CompileIgnoreLines(lines...),
		globs:   globs,
	}
}

// Ignored reports whether the slash-separated relative path is excluded.
func (l *IgnoreList) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}

	if l.matcher.MatchesPath(rel) {
		return true
	}

	for _, g := range l.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}
