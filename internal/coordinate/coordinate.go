// Package coordinate names a repository (repo_type, org, repo) and maps it,
// together with a commit/file path or CDN hash, to the on-disk layout
// tree described in spec §6.
package coordinate

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RepoType enumerates the three hub resource kinds.
type RepoType string

const (
	Models   RepoType = "models"
	Datasets RepoType = "datasets"
	Spaces   RepoType = "spaces"
)

// ValidRepoType reports whether t is one of the recognized kinds.
func ValidRepoType(t string) bool {
	switch RepoType(t) {
	case Models, Datasets, Spaces:
		return true
	default:
		return false
	}
}

// Coordinate identifies a repository: (repo_type, org, repo). Org may be
// empty for single-segment names.
type Coordinate struct {
	Type RepoType
	Org  string
	Repo string
}

// OrgRepo renders "org/repo", or just "repo" when Org is empty — the
// string RuleEngine matches rules against.
func (c Coordinate) OrgRepo() string {
	if c.Org == "" {
		return c.Repo
	}
	return c.Org + "/" + c.Repo
}

// ParseOrgRepo splits an "org/repo" or bare "repo" string. More than one
// slash is invalid.
func ParseOrgRepo(orgRepo string) (org, repo string, ok bool) {
	parts := strings.Split(orgRepo, "/")
	switch len(parts) {
	case 1:
		return "", parts[0], true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

// Kind selects which of the four persisted-layout families a path falls
// under (spec §3).
type Kind int

const (
	KindHead Kind = iota
	KindFile
	KindAPI
	KindLFS
)

// cleanSegment rejects path traversal and backslashes, per spec §3's
// "Path components must be normalized (no .., no \, no //)".
func cleanSegment(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("coordinate: empty path segment")
	}
	if strings.Contains(s, "\\") {
		return "", fmt.Errorf("coordinate: backslash not allowed in %q", s)
	}
	cleaned := filepath.ToSlash(filepath.Clean(s))
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." || part == "." {
			return "", fmt.Errorf("coordinate: path traversal in %q", s)
		}
	}
	return cleaned, nil
}

// HeadPath returns the envelope path for a prior HEAD of (coord, commit,
// filePath): heads/{type}/{org}/{repo}/resolve/{commit}/{file}.
func HeadPath(reposPath string, c Coordinate, commit, filePath string) (string, error) {
	return resourcePath(reposPath, "heads", c, commit, filePath)
}

// FilePath returns the BlockCacheFile container path for (coord, commit,
// filePath): files/{type}/{org}/{repo}/resolve/{commit}/{file}.
func FilePath(reposPath string, c Coordinate, commit, filePath string) (string, error) {
	return resourcePath(reposPath, "files", c, commit, filePath)
}

func resourcePath(reposPath, root string, c Coordinate, commit, filePath string) (string, error) {
	clean, err := cleanSegment(filePath)
	if err != nil {
		return "", err
	}
	org := c.Org
	if org == "" {
		org = "_"
	}
	return filepath.Join(reposPath, root, string(c.Type), org, c.Repo, "resolve", commit, clean), nil
}

// CDNHeadPath / CDNFilePath are the CDN-keyed (no commit coordinate)
// counterparts: heads|files/{type}/{org}/{repo}/cdn/{hash}.
func CDNHeadPath(reposPath string, c Coordinate, hash string) (string, error) {
	return cdnPath(reposPath, "heads", c, hash)
}

func CDNFilePath(reposPath string, c Coordinate, hash string) (string, error) {
	return cdnPath(reposPath, "files", c, hash)
}

func cdnPath(reposPath, root string, c Coordinate, hash string) (string, error) {
	clean, err := cleanSegment(hash)
	if err != nil {
		return "", err
	}
	org := c.Org
	if org == "" {
		org = "_"
	}
	return filepath.Join(reposPath, root, string(c.Type), org, c.Repo, "cdn", clean), nil
}

// LFSHeadPath / LFSFilePath: lfs/heads|files/{d1}/{d2}/{hash_repo}/{hash_file},
// the CDN/LFS blob family keyed purely by hash, no repo coordinate.
func LFSHeadPath(reposPath, d1, d2, hashRepo, hashFile string) (string, error) {
	return lfsPath(reposPath, "heads", d1, d2, hashRepo, hashFile)
}

func LFSFilePath(reposPath, d1, d2, hashRepo, hashFile string) (string, error) {
	return lfsPath(reposPath, "files", d1, d2, hashRepo, hashFile)
}

func lfsPath(reposPath, root, d1, d2, hashRepo, hashFile string) (string, error) {
	for _, s := range []string{d1, d2, hashRepo, hashFile} {
		if _, err := cleanSegment(s); err != nil {
			return "", err
		}
	}
	return filepath.Join(reposPath, "lfs", root, d1, d2, hashRepo, hashFile), nil
}

// MetaSavePath: api/{type}/{org}/{repo}/revision/{commit}/meta_{method}.json
func MetaSavePath(reposPath string, c Coordinate, commit, method string) (string, error) {
	org := orgOrUnderscore(c.Org)
	return filepath.Join(reposPath, "api", string(c.Type), org, c.Repo, "revision", commit, fmt.Sprintf("meta_%s.json", method)), nil
}

// MetaSaveDir: api/{type}/{org}/{repo}/revision — the directory
// CommitResolver's offline newest-commit scan globs under.
func MetaSaveDir(reposPath string, c Coordinate) string {
	org := orgOrUnderscore(c.Org)
	return filepath.Join(reposPath, "api", string(c.Type), org, c.Repo, "revision")
}

// TreeSavePath: api/{type}/{org}/{repo}/tree/{commit}/{path}/tree_{method}_recursive_{b}_expand_{b}.json
func TreeSavePath(reposPath string, c Coordinate, commit, path, method string, recursive, expand bool) (string, error) {
	clean, err := cleanSegment(path)
	if err != nil {
		return "", err
	}
	org := orgOrUnderscore(c.Org)
	name := fmt.Sprintf("tree_%s_recursive_%s_expand_%s.json", method, boolStr(recursive), boolStr(expand))
	return filepath.Join(reposPath, "api", string(c.Type), org, c.Repo, "tree", commit, clean, name), nil
}

// PathsInfoSavePath: api/{type}/{org}/{repo}/paths-info/{commit}/{path}/paths-info_{method}.json
func PathsInfoSavePath(reposPath string, c Coordinate, commit, path, method string) (string, error) {
	clean, err := cleanSegment(path)
	if err != nil {
		return "", err
	}
	org := orgOrUnderscore(c.Org)
	return filepath.Join(reposPath, "api", string(c.Type), org, c.Repo, "paths-info", commit, clean, fmt.Sprintf("paths-info_%s.json", method)), nil
}

func orgOrUnderscore(org string) string {
	if org == "" {
		return "_"
	}
	return org
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
