package nodes

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	ErrInvalidTOML  = errors.New("invalid allowlist toml")
	ErrInvalidRegex = errors.New("invalid allowlist pattern")
)

// Allowlist excludes artifact paths and content patterns from secret scanning.
type Allowlist struct {
	Paths   []string
	Regexes []string

	paths []*regexp.Regexp
}

// LoadAllowlist reads an allowlist file of the form
//
//	[allowlist]
//	paths = ['''testdata/''']
//	regexes = ['''EXAMPLE_KEY''']
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	return NewAllowlist(file.Allowlist.Paths, file.Allowlist.Regexes)
}

// NewAllowlist validates the patterns and builds an allowlist
func NewAllowlist(paths, regexes []string) (*Allowlist, error) {
	a := &Allowlist{Paths: paths, Regexes: regexes}
	for _, p := range paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %v", ErrInvalidRegex, p, err)
		}
		a.paths = append(a.paths, re)
	}
	for _, p := range regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: content %q: %v", ErrInvalidRegex, p, err)
		}
	}
	return a, nil
}

// SkipPath reports whether an artifact path is excluded
func (a *Allowlist) SkipPath(path string) bool {
	if a == nil {
		return false
	}
	for _, re := range a.paths {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// apply merges the content patterns into a gitleaks config
func (a *Allowlist) apply(cfg *gitleaksConfig.Config) {
	if a == nil || len(a.Regexes) == 0 {
		return
	}
	entry := &gitleaksConfig.Allowlist{Description: "orchestrd allowlist"}
	for _, p := range a.Regexes {
		// validated in NewAllowlist
		re := regexp.MustCompile(p)
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	entry.StopWords = append(entry.StopWords, a.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}
