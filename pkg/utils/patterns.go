package utils

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// PatternMatcher handles glob pattern matching. Supported syntax: *, **, ?, [...], [!...] and {a,b}.
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	var expanded []string
	for _, pattern := range patterns {
		expanded = append(expanded, ExpandBraces(NormalizePattern(pattern))...)
	}

	pm := &PatternMatcher{
		patterns: expanded,
		regexps:  make([]*regexp.Regexp, 0, len(expanded)),
	}

	for _, pattern := range expanded {
		regex, err := globToRegex(pattern)
		if err != nil {
			return nil, err
		}
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(p string) bool {
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")

	for _, regex := range pm.regexps {
		if regex.MatchString(p) {
			return true
		}
	}

	return false
}

// globToRegex converts a brace-free glob pattern to a regular expression
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches zero or more directories
					regex.WriteString("(?:.*/)?")
					i += 3
				} else {
					regex.WriteString(".*")
					i += 2
				}
			} else {
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			var class strings.Builder
			if j < len(pattern) && pattern[j] == '!' {
				class.WriteString("[^")
				j++
			} else {
				class.WriteString("[")
			}

			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					class.WriteByte(pattern[j])
					class.WriteByte(pattern[j+1])
					j += 2
				} else {
					class.WriteByte(pattern[j])
					j++
				}
			}

			if j < len(pattern) {
				class.WriteByte(']')
				regex.WriteString(class.String())
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				regex.WriteString("\\[")
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				regex.WriteString("\\\\")
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}

	regex.WriteString("$")

	return regexp.Compile(regex.String())
}

// ExpandBraces expands {a,b} alternatives, including nested ones, into plain glob patterns.
// Unbalanced braces are left as literals.
func ExpandBraces(pattern string) []string {
	start, depth := -1, 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				prefix, suffix := pattern[:start], pattern[i+1:]
				var out []string
				for _, alt := range splitAlternatives(pattern[start+1 : i]) {
					out = append(out, ExpandBraces(prefix+alt+suffix)...)
				}
				return out
			}
		}
	}
	return []string{pattern}
}

func splitAlternatives(body string) []string {
	var alts []string
	depth, last := 0, 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				alts = append(alts, body[last:i])
				last = i + 1
			}
		}
	}
	return append(alts, body[last:])
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// NormalizePattern normalizes a file pattern
func NormalizePattern(pattern string) string {
	pattern = filepath.ToSlash(pattern)
	pattern = strings.TrimPrefix(pattern, "./")
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

// staticBase returns the leading directory segments of a pattern that contain no wildcards
func staticBase(pattern string) string {
	segments := strings.Split(pattern, "/")
	var base []string
	for _, seg := range segments[:len(segments)-1] {
		if IsGlobPattern(seg) {
			break
		}
		base = append(base, seg)
	}
	if len(base) == 1 && base[0] == "" {
		return "/"
	}
	return strings.Join(base, "/")
}

// Glob returns the files matching pattern, sorted. Relative patterns are resolved
// against root and their matches are returned relative to root. node_modules and
// .git directories are skipped unless the pattern walks into them explicitly.
func Glob(root, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var matches []string

	for _, p := range ExpandBraces(NormalizePattern(pattern)) {
		if !IsGlobPattern(p) {
			if FileExists(ResolvePath(root, filepath.FromSlash(p))) && !seen[p] {
				seen[p] = true
				matches = append(matches, filepath.FromSlash(p))
			}
			continue
		}

		regex, err := globToRegex(p)
		if err != nil {
			return nil, err
		}

		base := staticBase(p)
		walkRoot := ResolvePath(root, filepath.FromSlash(base))
		err = filepath.WalkDir(walkRoot, func(current string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}

			if d.IsDir() {
				if current != walkRoot && skipDuringGlob(d.Name(), p) {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(walkRoot, current)
			if err != nil {
				return err
			}
			candidate := path.Join(base, filepath.ToSlash(rel))
			if regex.MatchString(candidate) && !seen[candidate] {
				seen[candidate] = true
				matches = append(matches, filepath.FromSlash(candidate))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(matches)
	return matches, nil
}

func skipDuringGlob(dir, pattern string) bool {
	return (dir == "node_modules" || dir == ".git") && !strings.Contains(pattern, dir)
}

// ExclusionMatcher handles exclusion patterns. Bare names exclude a directory
// anywhere in the tree; other patterns match at any depth.
type ExclusionMatcher struct {
	patterns []string
	matcher  *PatternMatcher
}

// NewExclusionMatcher creates a new exclusion matcher
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	var all []string
	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		switch {
		case !strings.ContainsAny(pattern, "*/"):
			all = append(all, "**/"+pattern, "**/"+pattern+"/**")
		case !strings.HasPrefix(pattern, "**") && !strings.HasPrefix(pattern, "/"):
			all = append(all, pattern, "**/"+pattern)
		default:
			all = append(all, pattern)
		}
	}

	matcher, err := NewPatternMatcher(all)
	if err != nil {
		return nil, err
	}

	return &ExclusionMatcher{
		patterns: patterns,
		matcher:  matcher,
	}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(p string) bool {
	return em.matcher.Match(p)
}

// FilterPaths removes excluded paths from a list
func (em *ExclusionMatcher) FilterPaths(paths []string) []string {
	var filtered []string
	for _, p := range paths {
		if !em.IsExcluded(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// GetDefaultExclusions returns the paths a watch session never reacts to
func GetDefaultExclusions() []string {
	return []string{
		".git",
		".hg",
		".svn",
		"node_modules",
		".wraith-cache",
		".bundler-cache",
		".idea",
		".vscode",
		"coverage",
		".DS_Store",
		"*.swp",
		"*.swo",
		"*~",
		"*.log",
		"*.tmp",
	}
}
