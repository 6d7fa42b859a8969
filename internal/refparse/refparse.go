// Package refparse implements spec §9's "magic string input references" as
// an exhaustive tagged variant, parsed out of arbitrary JSON input trees at
// well-defined points (the Software Build Coordinator and the Run
// Submitter). Grounded on original_source/src/manager/test_runner.rs's
// IMAGE_BUILD_REGEX / split("|") parsing, reexpressed with regexp/Go
// struct tags instead of a lazy_static Regex + string split.
package refparse

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Kind discriminates the parsed reference variants.
type Kind int

const (
	Literal Kind = iota
	ImageBuild
	TestOutput
)

// Ref is a tagged variant over the three input-reference shapes named in
// spec §4.3.
type Ref struct {
	Kind Kind

	// ImageBuild fields.
	SoftwareName  string
	CommitOrTag   string

	// TestOutput fields.
	Workflow   string
	OutputName string

	// Literal holds the original string when Kind == Literal.
	Literal string
}

var (
	imageBuildRe = regexp.MustCompile(`^image_build:([^|]+)\|(.+)$`)
	testOutputRe = regexp.MustCompile(`^test_output:([^.]+)\.(.+)$`)
	commitHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// Parse classifies a single string value into its tagged variant.
func Parse(value string) Ref {
	if m := imageBuildRe.FindStringSubmatch(value); m != nil {
		return Ref{Kind: ImageBuild, SoftwareName: m[1], CommitOrTag: m[2]}
	}
	if m := testOutputRe.FindStringSubmatch(value); m != nil {
		return Ref{Kind: TestOutput, Workflow: m[1], OutputName: m[2]}
	}
	return Ref{Kind: Literal, Literal: value}
}

// IsCommitHash reports whether a commit_or_tag token is a full 40-character
// hex commit hash, per spec §4.3 step 2, rather than a tag needing
// git-mirror resolution.
func IsCommitHash(commitOrTag string) bool {
	return commitHashRe.MatchString(commitOrTag)
}

// ScanJSON walks an arbitrary JSON input tree (as produced by
// json.Unmarshal into map[string]interface{}/[]interface{}/string/...) and
// returns every non-literal Ref found in string leaves, alongside the JSON
// pointer-style path to each (dot-separated keys / bracketed indices) so
// callers can substitute resolved values back into the same tree.
func ScanJSON(raw json.RawMessage) ([]PathRef, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("refparse: invalid json: %w", err)
	}
	var out []PathRef
	scan("", v, &out)
	return out, nil
}

// PathRef pairs a parsed reference with the path it was found at.
type PathRef struct {
	Path string
	Ref  Ref
}

func scan(path string, v interface{}, out *[]PathRef) {
	switch t := v.(type) {
	case string:
		ref := Parse(t)
		if ref.Kind != Literal {
			*out = append(*out, PathRef{Path: path, Ref: ref})
		}
	case map[string]interface{}:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			scan(childPath, child, out)
		}
	case []interface{}:
		for i, child := range t {
			scan(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	}
}

// Substitute applies a path->value map (produced by resolving the PathRefs
// from ScanJSON) back onto a copy of the original JSON tree, returning the
// concrete input JSON ready for submission (spec §4.4).
func Substitute(raw json.RawMessage, resolved map[string]string) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("refparse: invalid json: %w", err)
	}
	substitute("", v, resolved)
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("refparse: re-marshal failed: %w", err)
	}
	return out, nil
}

func substitute(path string, v interface{}, resolved map[string]string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if s, ok := child.(string); ok {
				if replacement, found := resolved[childPath]; found {
					t[k] = replacement
					continue
				}
				_ = s
			}
			t[k] = substitute(childPath, child, resolved)
		}
		return t
	case []interface{}:
		for i, child := range t {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if s, ok := child.(string); ok {
				if replacement, found := resolved[childPath]; found {
					t[i] = replacement
					continue
				}
				_ = s
			}
			t[i] = substitute(childPath, child, resolved)
		}
		return t
	default:
		return v
	}
}
