package sync

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/refs"
	"github.com/driftvcs/drift/internal/repo"
)

// Handler exposes a repository's wire operations over HTTP, the serving side
// of Client. One handler instance may serve many concurrent clients; the ref
// store's compare-and-swap is the only cross-client coordination.
func Handler(r *repo.Repository) http.Handler {
	s := &server{repo: r}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/branches", s.listBranches)
	mux.HandleFunc("GET /v1/objects/{id}", s.getObject)
	mux.HandleFunc("PUT /v1/objects/{id}", s.putObject)
	mux.HandleFunc("POST /v1/branches/{name}", s.casUpdateBranch)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type server struct {
	repo *repo.Repository
}

func (s *server) listBranches(w http.ResponseWriter, _ *http.Request) {
	branches, err := s.repo.Refs.Branches()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	out := make(map[string]string, len(branches))
	for name, id := range branches {
		out[name] = object.IDToString(id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"branches": out})
}

func (s *server) getObject(w http.ResponseWriter, r *http.Request) {
	id, err := object.ParseID(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	data, err := s.repo.Store.GetRaw(id)
	if errors.Is(err, object.ErrObjectNotFound) {
		httpError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *server) putObject(w http.ResponseWriter, r *http.Request) {
	id, err := object.ParseID(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	err = s.repo.Store.PutRaw(id, data)
	switch {
	case errors.Is(err, object.ErrCorruptObject), errors.Is(err, object.ErrMissingParent):
		httpError(w, http.StatusBadRequest, err)
	case err != nil:
		httpError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *server) casUpdateBranch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req casRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	newValue, err := object.ParseID(req.New)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	expectedOld := gocid.Undef
	if req.Old != "" {
		if expectedOld, err = object.ParseID(req.Old); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
	}

	// The new tip must be fully uploaded before the pointer can move.
	if !s.repo.Store.Has(newValue) {
		httpError(w, http.StatusBadRequest, object.ErrObjectNotFound)
		return
	}

	err = s.repo.Refs.SetBranch(name, expectedOld, newValue)
	if errors.Is(err, refs.ErrStaleBranch) {
		conflict := casConflict{}
		if actual, berr := s.repo.Refs.Branch(name); berr == nil {
			conflict.Actual = object.IDToString(actual)
		}
		writeJSON(w, http.StatusConflict, conflict)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("drift: encode response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
