package filter

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/Ning0612/pubsync/internal/domain"
)

// IgnoreFileName is read from the local root when present
const IgnoreFileName = ".pubsyncignore"

var defaultIgnoreLines = []string{
	// pubsync
	"*.pubsync.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// Filter decides which relative paths take part in a reconciliation
type Filter struct {
	includes []string
	excludes []string
	ignore   *gitignore.GitIgnore
}

// New compiles include and exclude lists. Entries may hold several
// patterns separated by ";".
func New(includes, excludes []string, ignoreLines ...string) (*Filter, error) {
	f := &Filter{
		includes: domain.SplitPatterns(includes),
		excludes: domain.SplitPatterns(excludes),
	}
	for _, p := range append(append([]string{}, f.includes...), f.excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: invalid pattern %q", domain.ErrConfigInvalid, p)
		}
	}
	f.ignore = gitignore.CompileIgnoreLines(append(append([]string{}, defaultIgnoreLines...), ignoreLines...)...)
	return f, nil
}

// ForPublication builds the filter configured on a publication
func ForPublication(pub domain.Publication, ignoreLines ...string) (*Filter, error) {
	return New(pub.Includes, pub.Excludes, ignoreLines...)
}

// Allow reports whether p should be listed and compared.
// Directories are always traversed when includes are set; only files must match.
func (f *Filter) Allow(p string, isDir bool) bool {
	if f == nil {
		return true
	}
	if f.ignore != nil && f.ignore.MatchesPath(p) {
		return false
	}
	if matchAny(f.excludes, p) {
		return false
	}
	if isDir || len(f.includes) == 0 {
		return true
	}
	return matchAny(f.includes, p)
}

// matchAny matches against the full relative path and the base name
func matchAny(patterns []string, p string) bool {
	base := path.Base(p)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
		// "dir/" style patterns cover everything beneath
		if strings.HasSuffix(pattern, "/") {
			dir := strings.TrimSuffix(pattern, "/")
			if p == dir || strings.HasPrefix(p, dir+"/") {
				return true
			}
		}
	}
	return false
}

// ReadIgnoreLines reads an ignore file, skipping blanks and comments
func ReadIgnoreLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return lines, nil
}
