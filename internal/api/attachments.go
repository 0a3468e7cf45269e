package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"
)

const maxUploadBytes = 50 << 20

// ServeAttachment handles GET /api/attachments?document=<token>&name=<file>.
//
//	@Summary		Download an attachment of a folder document
//	@Tags			attachments
//	@Produce		octet-stream
//	@Param			document	query	string	true	"Document path or id"
//	@Param			name		query	string	true	"Attachment file name"
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attachments [get]
func (h *Handler) ServeAttachment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, name := q.Get("document"), q.Get("name")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'document' is required"))
		return
	}
	data, err := h.deps.Docs.ReadAttachment(r.Context(), token, name)
	if err != nil {
		writeError(w, "read attachment", err, slog.String("document", token), slog.String("name", name))
		return
	}
	http.ServeContent(w, r, path.Base(name), time.Time{}, bytes.NewReader(data))
}

// UploadAttachment handles POST /api/attachments?document=<token>
// (multipart/form-data, field "file").
//
//	@Summary		Upload an attachment into a folder document
//	@Tags			attachments
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			document	query		string	true	"Document path or id"
//	@Param			file		formData	file	true	"File to store"
//	@Success		201			{object}	AttachmentUploadResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attachments [post]
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	token := r.URL.Query().Get("document")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'document' is required"))
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}
	p, err := h.deps.Docs.AddAttachment(r.Context(), token, header.Filename, data)
	if err != nil {
		writeError(w, "upload attachment", err, slog.String("document", token))
		return
	}
	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{Path: p, Size: int64(len(data))})
}
