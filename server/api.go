package server

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/vtuber-plan/olah/internal/coordinate"
	"github.com/vtuber-plan/olah/internal/envelope"
	pkgerrors "github.com/vtuber-plan/olah/pkg/errors"
)

// apiMeta is the small newest-commit/revision body this mirror caches,
// grounded on olah/proxy/meta_api.py's response shape; only the sha
// field is carried (no siblings list).
type apiMeta struct {
	SHA string `json:"sha"`
}

// apiNewestCommit serves GET /api/{type}/{org}/{repo}: resolve (or
// recall) the newest commit and reply with its sha, persisting the
// envelope for offline replay per spec §6's persisted layout.
func (s *Server) apiNewestCommit(w http.ResponseWriter, r *http.Request) {
	typ, org, repo := r.PathValue("type"), r.PathValue("org"), r.PathValue("repo")
	if !coordinate.ValidRepoType(typ) {
		s.writeAPIError(w, pkgerrors.UnknownType())
		return
	}
	coord := coordinate.Coordinate{Type: coordinate.RepoType(typ), Org: org, Repo: repo}
	if !s.rules.Allow(coord.OrgRepo()) {
		s.writeAPIError(w, pkgerrors.NotAdmitted())
		return
	}

	savePath, err := coordinate.MetaSavePath(s.reposPath, coord, "newest", "get")
	if err == nil && s.offline {
		if e, rerr := envelope.Read(savePath); rerr == nil {
			s.writeEnvelope(w, e)
			return
		}
	}

	sha, err := s.resolver.NewestCommit(r.Context(), coord, r.Header.Get("Authorization"))
	if err != nil {
		s.writeAPIError(w, pkgerrors.UnknownRepo().WithCause(err))
		return
	}

	body, _ := json.Marshal(apiMeta{SHA: sha})
	e := envelope.New(http.StatusOK, map[string]string{"Content-Type": "application/json"}, body)
	if savePath != "" {
		_ = envelope.Write(savePath, e)
	}
	s.writeEnvelope(w, e)
}

// apiRevision serves GET /api/{type}/{org}/{repo}/revision/{commit}.
func (s *Server) apiRevision(w http.ResponseWriter, r *http.Request) {
	typ, org, repo, commit := r.PathValue("type"), r.PathValue("org"), r.PathValue("repo"), r.PathValue("commit")
	if !coordinate.ValidRepoType(typ) {
		s.writeAPIError(w, pkgerrors.UnknownType())
		return
	}
	coord := coordinate.Coordinate{Type: coordinate.RepoType(typ), Org: org, Repo: repo}
	if !s.rules.Allow(coord.OrgRepo()) {
		s.writeAPIError(w, pkgerrors.NotAdmitted())
		return
	}

	resolved, err := s.resolver.Resolve(r.Context(), coord, commit, r.Header.Get("Authorization"))
	if err != nil {
		s.writeAPIError(w, pkgerrors.UnknownRevision().WithCause(err))
		return
	}

	savePath, _ := coordinate.MetaSavePath(s.reposPath, coord, resolved, "get")
	if s.offline {
		if e, rerr := envelope.Read(savePath); rerr == nil {
			s.writeEnvelope(w, e)
			return
		}
	}

	body, _ := json.Marshal(apiMeta{SHA: resolved})
	e := envelope.New(http.StatusOK, map[string]string{"Content-Type": "application/json"}, body)
	if savePath != "" {
		_ = envelope.Write(savePath, e)
	}
	s.writeEnvelope(w, e)
}

func (s *Server) writeEnvelope(w http.ResponseWriter, e envelope.Envelope) {
	body, err := e.Bytes()
	if err != nil {
		s.writeAPIError(w, pkgerrors.ProxyInvalidData().WithCause(err))
		return
	}
	for k, v := range e.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(body)
}

func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	pe, ok := err.(*pkgerrors.Error)
	if !ok {
		pe = pkgerrors.ProxyInvalidData().WithCause(err)
	}
	for k, vv := range pe.Headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.Code)
	body, _ := json.Marshal(map[string]string{"error": pe.Error()})
	_, _ = w.Write(body)
}
