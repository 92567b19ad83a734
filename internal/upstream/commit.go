package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vtuber-plan/olah/internal/coordinate"
	"github.com/vtuber-plan/olah/internal/envelope"
)

// commitMeta is the subset of an upstream metadata reply CommitResolver
// cares about.
type commitMeta struct {
	SHA          string `json:"sha"`
	LastModified string `json:"lastModified"`
}

// CommitResolver implements spec §4.5: given (repo_type, org, repo, ref)
// it returns a stable commit sha, either by querying upstream or by
// reading cached metadata envelopes; it distinguishes "unknown repo" from
// "unknown revision" and never fabricates a sha.
type CommitResolver struct {
	client    *Client
	reposPath string
	offline   bool
}

// NewCommitResolver builds a resolver against client, persisting/reading
// envelopes under reposPath. offline forces the cache-only code path even
// when the upstream would otherwise be reachable.
func NewCommitResolver(client *Client, reposPath string, offline bool) *CommitResolver {
	return &CommitResolver{client: client, reposPath: reposPath, offline: offline}
}

// NewestCommit returns the sha of the repository's default/newest
// revision, or "" if it cannot be determined (never fabricated).
func (r *CommitResolver) NewestCommit(ctx context.Context, c coordinate.Coordinate, authorization string) (string, error) {
	if r.offline {
		return r.newestCommitOffline(c)
	}

	url := fmt.Sprintf("%s/api/%s/%s", r.client.URLBase(), c.Type, c.OrgRepo())
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := r.client.do(ctx, req)
	if err != nil {
		return r.newestCommitOffline(c)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.newestCommitOffline(c)
	}

	var meta commitMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return r.newestCommitOffline(c)
	}
	return meta.SHA, nil
}

// newestCommitOffline globs every cached meta_head.json under the
// repository's revision directory, parses lastModified, and returns the
// sha of the newest one. Grounded on get_newest_commit_hf_offline.
func (r *CommitResolver) newestCommitOffline(c coordinate.Coordinate) (string, error) {
	saveDir := coordinate.MetaSaveDir(r.reposPath, c)
	matches, err := filepath.Glob(filepath.Join(saveDir, "*", "meta_head.json"))
	if err != nil {
		return "", fmt.Errorf("upstream: glob offline metadata: %w", err)
	}

	type timedSHA struct {
		t   time.Time
		sha string
	}
	var found []timedSHA
	for _, m := range matches {
		e, err := envelope.Read(m)
		if err != nil {
			continue
		}
		body, err := e.Bytes()
		if err != nil {
			continue
		}
		var meta commitMeta
		if err := json.Unmarshal(body, &meta); err != nil {
			continue
		}
		t, err := time.Parse(time.RFC3339, meta.LastModified)
		if err != nil {
			continue
		}
		found = append(found, timedSHA{t: t, sha: meta.SHA})
	}
	if len(found) == 0 {
		return "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].t.Before(found[j].t) })
	return found[len(found)-1].sha, nil
}

// Resolve returns the sha for ref, which may already be a 40-hex sha (in
// which case it is returned unchanged — no upstream call is needed to
// resolve a sha to itself). Otherwise resolves a branch name via upstream
// or, offline, via the cached revision envelope.
func (r *CommitResolver) Resolve(ctx context.Context, c coordinate.Coordinate, ref string, authorization string) (string, error) {
	if isSHA(ref) {
		return ref, nil
	}

	if r.offline {
		return r.resolveOffline(c, ref)
	}

	url := fmt.Sprintf("%s/api/%s/%s/revision/%s", r.client.URLBase(), c.Type, c.OrgRepo(), ref)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := r.client.do(ctx, req)
	if err != nil {
		return r.resolveOffline(c, ref)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTemporaryRedirect {
		return r.resolveOffline(c, ref)
	}

	var meta commitMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return r.resolveOffline(c, ref)
	}
	return meta.SHA, nil
}

func (r *CommitResolver) resolveOffline(c coordinate.Coordinate, ref string) (string, error) {
	path, err := coordinate.MetaSavePath(r.reposPath, c, ref, "get")
	if err != nil {
		return "", err
	}
	e, err := envelope.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	body, err := e.Bytes()
	if err != nil {
		return "", err
	}
	var meta commitMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", nil
	}
	return meta.SHA, nil
}

// Exists reports whether the repo (ref == "") or the repo at a specific
// ref is known to upstream, by status code 200/307 to a HEAD probe.
// Retried up to 3 times on transient failure, grounded on
// check_commit_hf's @tenacity.retry(stop_after_attempt(3)).
func (r *CommitResolver) Exists(ctx context.Context, c coordinate.Coordinate, ref string, authorization string) (bool, error) {
	var url string
	if ref == "" {
		url = fmt.Sprintf("%s/api/%s/%s", r.client.URLBase(), c.Type, c.OrgRepo())
	} else {
		url = fmt.Sprintf("%s/api/%s/%s/revision/%s", r.client.URLBase(), c.Type, c.OrgRepo(), ref)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequest(http.MethodHead, url, nil)
		if err != nil {
			return false, err
		}
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := r.client.do(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusTemporaryRedirect, nil
	}
	return false, lastErr
}

func isSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
