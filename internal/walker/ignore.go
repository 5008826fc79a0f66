package walker

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// BuiltinIgnore lists entry names that are never walked.
var BuiltinIgnore = []string{
	".git", ".svn", ".hg",
	".archcrawl",
	"node_modules",
	"__pycache__", ".pytest_cache", ".mypy_cache",
	"venv", ".venv", "env", ".env",
	"build", "dist",
	".DS_Store",
	"*.pyc", "*.pyo", "*.pyd",
	"*.so", "*.dylib",
}

// ErrInvalidPattern indicates an ignore pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

// compileNames compiles entry-name patterns.
func compileNames(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// =============================================================================
// .gitignore rules
// =============================================================================

// ignoreRule is one line of a .gitignore file, scoped to the directory that
// holds the file.
type ignoreRule struct {
	base     string // directory the rule is relative to
	globs    []glob.Glob
	negate   bool
	dirOnly  bool
	anchored bool
}

// match reports whether the rule applies to path. path lies under r.base.
func (r ignoreRule) match(path string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	subject := filepath.Base(path)
	if r.anchored {
		rel, err := filepath.Rel(r.base, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return false
		}
		subject = filepath.ToSlash(rel)
	}
	return matchAny(r.globs, subject)
}

// ruleSet is the ordered list of rules in effect for a directory. Later
// rules take precedence over earlier ones.
type ruleSet []ignoreRule

// ignored reports whether path is excluded by the rule set.
func (rs ruleSet) ignored(path string, isDir bool) bool {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].match(path, isDir) {
			return !rs[i].negate
		}
	}
	return false
}

// withGitignore returns rs extended by the rules of dir/.gitignore. A
// missing file returns rs unchanged.
func (rs ruleSet) withGitignore(dir string) (ruleSet, error) {
	f, err := os.Open(filepath.Join(dir, ".gitignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rs, nil
		}
		return rs, err
	}
	defer f.Close()

	var added []ignoreRule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rule, ok := parseRule(dir, sc.Text())
		if ok {
			added = append(added, rule)
		}
	}
	if err := sc.Err(); err != nil {
		return rs, err
	}
	if len(added) == 0 {
		return rs, nil
	}
	out := make(ruleSet, 0, len(rs)+len(added))
	out = append(out, rs...)
	return append(out, added...), nil
}

// parseRule converts one .gitignore line into a rule.
func parseRule(base, line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	r := ignoreRule{base: base}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	} else if strings.HasPrefix(line, `\`) {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return ignoreRule{}, false
	}

	for _, p := range expandDoubleStar(line) {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		r.globs = append(r.globs, g)
	}
	return r, len(r.globs) > 0
}

// expandDoubleStar returns p plus the variants in which each "**" segment
// matches zero directories.
func expandDoubleStar(p string) []string {
	out := []string{p}
	if strings.HasPrefix(p, "**/") {
		out = append(out, strings.TrimPrefix(p, "**/"))
	}
	if strings.Contains(p, "/**/") {
		out = append(out, strings.ReplaceAll(p, "/**/", "/"))
	}
	return out
}
