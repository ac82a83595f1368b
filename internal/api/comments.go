package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillpost/quillpost-backend/internal/content"
)

// ListComments lists approved comments. The post's author may ask for
// other statuses with ?status=.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	post, err := h.visiblePost(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := ""
	if actor, _ := actorFrom(r.Context()); actor == post.AuthorID {
		status = trimmed(r, "status")
	}
	comments, total, err := h.svc.Comments.List(r.Context(), post.ID, status, page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(comments, total, page))
}

// AddComment posts a comment as the acting user, or anonymously when
// no user header is present.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var in content.CommentInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	in.AuthorID = nil
	if actor, ok := actorFrom(r.Context()); ok {
		in.AuthorID = &actor
	}
	comment, err := h.svc.Comments.Add(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *Handler) ModerateComment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req ModerateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	comment, err := h.svc.Comments.Moderate(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if err := h.svc.Comments.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
