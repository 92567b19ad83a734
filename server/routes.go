// Package server assembles the mirror's HTTP surface: route table,
// access-log middleware, and the prometheus/healthz
// endpoints, grounded on the teacher's server/server.go (stdlib
// http.NewServeMux, /metrics via promhttp, /healthz/{probe} trio).
package server

import (
	"fmt"
	"net/http"

	"github.com/vtuber-plan/olah/internal/coordinate"
	"github.com/vtuber-plan/olah/server/middleware/mirror"
)

// routes registers the spec §6 path templates on mux. Go 1.22's
// ServeMux pattern matching ({type}, {org}, {repo}, {file...}) replaces
// the third-party router the teacher never needed either (the teacher
// also used plain http.NewServeMux()).
func (s *Server) routes(mux *http.ServeMux) {
	h := s.mirror

	mux.HandleFunc("GET /{type}/{org}/{repo}/resolve/{commit}/{file...}", s.withAccessLog(resolveThreeSegment(h)))
	mux.HandleFunc("HEAD /{type}/{org}/{repo}/resolve/{commit}/{file...}", s.withAccessLog(resolveThreeSegment(h)))

	mux.HandleFunc("GET /{org}/{repo}/resolve/{commit}/{file...}", s.withAccessLog(resolveTwoSegment(h)))
	mux.HandleFunc("HEAD /{org}/{repo}/resolve/{commit}/{file...}", s.withAccessLog(resolveTwoSegment(h)))

	mux.HandleFunc("GET /repos/{d1}/{d2}/{hashRepo}/{hashFile}", s.withAccessLog(resolveBlob(h)))
	mux.HandleFunc("HEAD /repos/{d1}/{d2}/{hashRepo}/{hashFile}", s.withAccessLog(resolveBlob(h)))

	mux.HandleFunc("GET /api/{type}/{org}/{repo}", s.withAccessLog(s.apiNewestCommit))
	mux.HandleFunc("GET /api/{type}/{org}/{repo}/revision/{commit}", s.withAccessLog(s.apiRevision))

	mux.HandleFunc("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /healthz/startup-probe", s.healthz)
	mux.HandleFunc("GET /healthz/liveness-probe", s.healthz)
	mux.HandleFunc("GET /healthz/readiness-probe", s.healthz)
}

// resolveThreeSegment handles /{type}/{org}/{repo}/resolve/{commit}/{file...}
// where type is a recognized coordinate.RepoType.
func resolveThreeSegment(h *mirror.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ := r.PathValue("type")
		org := r.PathValue("org")
		repo := r.PathValue("repo")
		commit := r.PathValue("commit")
		file := mirror.DecodeQueryFile(r.PathValue("file"))
		if !coordinate.ValidRepoType(typ) {
			// Legacy two-segment form: {type} was actually the org.
			resolveTwoSegment(h)(w, requestWithOrgRepo(r, typ, org))
			return
		}
		h.ResolveFile(w, r, typ, org, repo, commit, file)
	}
}

// resolveTwoSegment handles the compatibility/legacy form
// /{org}/{repo}/resolve/{commit}/{file...}, which always defaults to
// type=models.
func resolveTwoSegment(h *mirror.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org := r.PathValue("org")
		repo := r.PathValue("repo")
		commit := r.PathValue("commit")
		file := mirror.DecodeQueryFile(r.PathValue("file"))
		h.ResolveFile(w, r, "models", org, repo, commit, file)
	}
}

func resolveBlob(h *mirror.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ResolveBlob(w, r, r.PathValue("d1"), r.PathValue("d2"), r.PathValue("hashRepo"), r.PathValue("hashFile"))
	}
}

// requestWithOrgRepo re-targets a request whose {type} segment did not
// match a known RepoType so it's treated as the compatibility two-segment
// form's {org}.
func requestWithOrgRepo(r *http.Request, org, repo string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.SetPathValue("org", org)
	r2.SetPathValue("repo", repo)
	return r2
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s rps=%d\n", mirror.StatusText(true), s.metrics.RequestsPerSecond())
}

func (s *Server) withAccessLog(next http.HandlerFunc) http.HandlerFunc {
	return s.accessLog.Wrap(next)
}
