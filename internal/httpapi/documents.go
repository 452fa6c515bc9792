package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hassdash/dashboard/internal/model"
	"github.com/hassdash/dashboard/internal/store"
)

const maxDocumentBody = 4 << 20

// documentAPI serves CRUD routes for one document collection.
type documentAPI[T model.Document] struct {
	base   string
	coll   *store.Collection[T]
	newDoc func() T
	logger *slog.Logger
}

func registerDocuments[T model.Document](mux *http.ServeMux, base string, coll *store.Collection[T], newDoc func() T, logger *slog.Logger) {
	a := &documentAPI[T]{base: base, coll: coll, newDoc: newDoc, logger: logger}

	mux.HandleFunc("GET "+base, a.handleList)
	mux.HandleFunc("POST "+base, a.handleCreate)
	mux.HandleFunc("GET "+base+"/{id}", a.handleGet)
	mux.HandleFunc("PUT "+base+"/{id}", a.handleUpdate)
	mux.HandleFunc("DELETE "+base+"/{id}", a.handleDelete)
}

func (a *documentAPI[T]) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := a.coll.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if docs == nil {
		docs = []T{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *documentAPI[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	doc := a.newDoc()
	if err := decodeBody(w, r, maxDocumentBody, doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	doc.SetDocumentID(uuid.Nil)

	created, err := a.coll.Create(r.Context(), doc)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Location", a.base+"/"+created.DocumentID().String())
	writeJSON(w, http.StatusCreated, created)
}

func (a *documentAPI[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	doc, err := a.coll.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleUpdate replaces a document. The expected version comes from an
// If-Match header or, failing that, the body.
func (a *documentAPI[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	doc := a.newDoc()
	if err := decodeBody(w, r, maxDocumentBody, doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	doc.SetDocumentID(id)

	if v, present, err := ifMatch(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid If-Match header", err.Error())
		return
	} else if present {
		doc.SetDocumentVersion(v)
	}

	updated, err := a.coll.Update(r.Context(), doc)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDelete soft-deletes a document. An If-Match header or version
// query parameter makes the delete conditional.
func (a *documentAPI[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	version, present, err := ifMatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid If-Match header", err.Error())
		return
	}
	if !present {
		if q := r.URL.Query().Get("version"); q != "" {
			version, err = strconv.ParseInt(q, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid version", err.Error())
				return
			}
		}
	}

	if err := a.coll.Delete(r.Context(), id, version); err != nil {
		writeErr(w, err)
		return
	}
	a.logger.Info("document deleted", "path", a.base, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid document id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ifMatch parses a version from If-Match. Quoted and weak forms are
// accepted.
func ifMatch(r *http.Request) (int64, bool, error) {
	h := r.Header.Get("If-Match")
	if h == "" {
		return 0, false, nil
	}
	h = strings.TrimPrefix(strings.TrimSpace(h), "W/")
	v, err := strconv.ParseInt(strings.Trim(h, `"`), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
