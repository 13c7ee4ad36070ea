package memory

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Season-style directory names that sit between an episode file and
// its series folder, e.g. "Season 2", "S01", "season_3".
var seasonDirPattern = regexp.MustCompile(`^(?:s|season)[ _-]?\d+$`)

// ScopeForFile derives the cache scope from a subtitle file path: the
// containing series/project directory, with one season level skipped,
// hashed so the scope is a stable opaque key.
func ScopeForFile(path string) string {
	dir := filepath.Dir(filepath.Clean(path))
	if seasonDirPattern.MatchString(strings.ToLower(filepath.Base(dir))) {
		dir = filepath.Dir(dir)
	}
	sum := sha256.Sum256([]byte(dir))
	return fmt.Sprintf("%x", sum[:8])
}
