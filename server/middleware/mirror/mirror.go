// Package mirror hands an inbound hub-style HTTP request to
// RangeStreamingPipeline: it parses the path into a coordinate.Coordinate
// plus commit/file, consults the RuleEngine, resolves the commit via
// CommitResolver, builds pipeline.Inputs, runs the pipeline, and writes
// the result back to the client — the glue spec §6 describes as "the
// HTTP surface the pipeline serves" but leaves unspecified as code.
//
// Grounded on the teacher's server/middleware/caching/caching.go for the
// request->upstream-URL shape, and on olah/proxy/files_api.py for which
// path segments map to which coordinate.Kind.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vtuber-plan/olah/contrib/log"
	"github.com/vtuber-plan/olah/internal/coordinate"
	"github.com/vtuber-plan/olah/internal/metrics"
	"github.com/vtuber-plan/olah/internal/pipeline"
	"github.com/vtuber-plan/olah/internal/rules"
	"github.com/vtuber-plan/olah/internal/upstream"
	pkgerrors "github.com/vtuber-plan/olah/pkg/errors"
)

// Handler wires one mirror request's dependencies together.
type Handler struct {
	Pipeline  *pipeline.Pipeline
	Resolver  *upstream.CommitResolver
	Rules     *rules.Engine
	CacheACL  *rules.Engine // gates Inputs.AllowCache independently of proxy admission
	Client    *upstream.Client
	ReposPath string

	MirrorScheme string
	MirrorNetloc string

	Offline       bool
	BlockSizeHint uint64

	Metrics *metrics.Collectors
}

// ResolveFile serves GET/HEAD on /{type}/{org}/{repo}/resolve/{commit}/{file...}
// and its compatibility forms. typ/org/repo/commit/file have already been
// extracted from the request path by routes.go.
func (h *Handler) ResolveFile(w http.ResponseWriter, r *http.Request, typ, org, repo, commit, file string) {
	ctx := r.Context()

	if !coordinate.ValidRepoType(typ) {
		h.writeError(w, pkgerrors.UnknownType())
		return
	}
	coord := coordinate.Coordinate{Type: coordinate.RepoType(typ), Org: org, Repo: repo}

	if !h.Rules.Allow(coord.OrgRepo()) {
		h.writeError(w, pkgerrors.NotAdmitted())
		return
	}

	resolvedCommit := commit
	if !h.Offline {
		exists, err := h.Resolver.Exists(ctx, coord, commit, r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, pkgerrors.ProxyTimeout().WithCause(err))
			return
		}
		if !exists {
			h.writeError(w, pkgerrors.UnknownRevision())
			return
		}
		resolvedCommit, err = h.Resolver.Resolve(ctx, coord, commit, r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, pkgerrors.UnknownRevision().WithCause(err))
			return
		}
	}

	headPath, err := coordinate.HeadPath(h.ReposPath, coord, resolvedCommit, file)
	if err != nil {
		h.writeError(w, pkgerrors.EntryNotFound().WithCause(err))
		return
	}
	filePath, err := coordinate.FilePath(h.ReposPath, coord, resolvedCommit, file)
	if err != nil {
		h.writeError(w, pkgerrors.EntryNotFound().WithCause(err))
		return
	}

	upstreamURL := fmt.Sprintf("%s/%s/%s/resolve/%s/%s", h.Client.URLBase(), typ, coord.OrgRepo(), resolvedCommit, file)

	h.serve(ctx, w, r, pipeline.Inputs{
		Method:            r.Method,
		URL:               upstreamURL,
		ClientRangeHeader: r.Header.Get("Range"),
		Authorization:     r.Header.Get("Authorization"),
		HeadPath:          headPath,
		FilePath:          filePath,
		AllowCache:        h.allowCache(coord.OrgRepo()),
		CommitOverride:    resolvedCommit,
		Offline:           h.Offline,
		MirrorLFSBase:     h.MirrorLFSBase(),
		BlockSizeHint:     h.BlockSizeHint,
	})
}

// ResolveBlob serves /repos/{d1}/{d2}/{hash_repo}/{hash_file}, the
// CDN/LFS blob form keyed purely by hash (no commit coordinate).
func (h *Handler) ResolveBlob(w http.ResponseWriter, r *http.Request, d1, d2, hashRepo, hashFile string) {
	ctx := r.Context()

	headPath, err := coordinate.LFSHeadPath(h.ReposPath, d1, d2, hashRepo, hashFile)
	if err != nil {
		h.writeError(w, pkgerrors.EntryNotFound().WithCause(err))
		return
	}
	filePath, err := coordinate.LFSFilePath(h.ReposPath, d1, d2, hashRepo, hashFile)
	if err != nil {
		h.writeError(w, pkgerrors.EntryNotFound().WithCause(err))
		return
	}

	upstreamURL := fmt.Sprintf("%s/repos/%s/%s/%s/%s", h.Client.LFSURLBase(), d1, d2, hashRepo, hashFile)

	h.serve(ctx, w, r, pipeline.Inputs{
		Method:            r.Method,
		URL:               upstreamURL,
		ClientRangeHeader: r.Header.Get("Range"),
		Authorization:     r.Header.Get("Authorization"),
		HeadPath:          headPath,
		FilePath:          filePath,
		AllowCache:        h.allowCache(d1 + "/" + d2),
		Offline:           h.Offline,
		MirrorLFSBase:     h.MirrorLFSBase(),
		BlockSizeHint:     h.BlockSizeHint,
	})
}

// allowCache consults CacheACL independently of Rules: proxy admission
// (Rules) decides whether a repo is served at all, CacheACL decides
// whether a served response may be persisted to disk (spec §4.8).
func (h *Handler) allowCache(repo string) bool {
	if h.CacheACL == nil {
		return true
	}
	return h.CacheACL.Allow(repo)
}

func (h *Handler) MirrorLFSBase() string {
	if h.MirrorScheme == "" || h.MirrorNetloc == "" {
		return ""
	}
	return h.MirrorScheme + "://" + h.MirrorNetloc
}

func (h *Handler) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, in pipeline.Inputs) {
	result, err := h.Pipeline.Serve(ctx, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer result.Body.Close()

	for k, vv := range result.Headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if m := metrics.FromContext(ctx); m != nil {
		if result.Status == http.StatusOK || result.Status == http.StatusPartialContent {
			m.CacheStatus = cacheStatusOf(result.Headers)
		}
	}
	w.WriteHeader(result.Status)
	if h.Metrics != nil {
		h.Metrics.ObserveRequest(r.Pattern, result.Status)
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, result.Body); err != nil {
		log.Context(ctx).Warnf("mirror: short write to client: %v", err)
	}
}

func cacheStatusOf(h http.Header) string {
	if h.Get("X-Cache") != "" {
		return h.Get("X-Cache")
	}
	return "miss"
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var pe *pkgerrors.Error
	if e, ok := err.(*pkgerrors.Error); ok {
		pe = e
	} else {
		pe = pkgerrors.ProxyInvalidData().WithCause(err)
	}
	for k, vv := range pe.Headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(pe.Code)
	_, _ = w.Write([]byte(pe.Error()))
}

// ParseRangedCommitPath splits a "{commit}/{file...}" tail as used by the
// resolve route, rejecting an empty commit or file segment.
func ParseRangedCommitPath(tail string) (commit, file string, ok bool) {
	tail = strings.TrimPrefix(tail, "/")
	idx := strings.Index(tail, "/")
	if idx <= 0 || idx == len(tail)-1 {
		return "", "", false
	}
	return tail[:idx], tail[idx+1:], true
}

// DecodeQueryFile unescapes a raw {file...} wildcard segment captured
// from an http.ServeMux "..." pattern, which does not itself decode
// percent-escapes segment by segment.
func DecodeQueryFile(raw string) string {
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// StatusText renders a small JSON-free plaintext body for health probes.
func StatusText(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}
