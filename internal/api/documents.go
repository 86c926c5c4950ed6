package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/mosaichq/mosaic/internal/extract"
	"github.com/mosaichq/mosaic/internal/rag"
)

// documentHandler serves document upload, listing and lifecycle routes.
type documentHandler struct {
	pipeline DocumentPipeline
	store    DocumentReader
	logger   *slog.Logger
}

type uploadRequest struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
}

// upload accepts a document as multipart/form-data (file field "file",
// optional "tags" as comma-separated values) or as a JSON body. Processing
// runs in the background; the response is 202 with the pending document.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	filename, raw, tags, err := readUpload(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_upload", err.Error(), h.logger)
		return
	}
	if filename == "" {
		WriteError(w, http.StatusBadRequest, "invalid_upload", "filename is required", h.logger)
		return
	}

	doc, err := h.pipeline.Ingest(r.Context(), orgID, filename, raw, tags)
	if err != nil {
		writeDomainError(w, err, "ingest_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusAccepted, doc)
}

// readUpload pulls the document out of either encoding.
func readUpload(r *http.Request) (filename string, raw []byte, tags []string, err error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(extract.MaxDocumentBytes); err != nil {
			return "", nil, nil, errors.New("parsing multipart form failed")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, nil, errors.New("file field is required")
		}
		defer file.Close()

		raw, err = io.ReadAll(io.LimitReader(file, extract.MaxDocumentBytes+1))
		if err != nil {
			return "", nil, nil, errors.New("reading file failed")
		}
		if t := r.FormValue("tags"); t != "" {
			for _, tag := range strings.Split(t, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}
		return header.Filename, raw, tags, nil
	}

	var req uploadRequest
	body := http.MaxBytesReader(nil, r.Body, extract.MaxDocumentBytes+4096)
	if derr := decodeJSONReader(body, &req); derr != nil {
		return "", nil, nil, derr
	}
	return req.Filename, []byte(req.Content), req.Tags, nil
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	status := rag.Status(r.URL.Query().Get("status"))
	docs, err := h.store.List(r.Context(), orgID, status)
	if err != nil {
		writeDomainError(w, err, "list_failed", h.logger)
		return
	}
	if docs == nil {
		docs = []*rag.Document{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	docID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	doc, err := h.store.Get(r.Context(), orgID, docID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

func (h *documentHandler) remove(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	docID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.pipeline.Delete(r.Context(), orgID, docID); err != nil {
		writeDomainError(w, err, "delete_failed", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *documentHandler) reindex(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	docID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.pipeline.Reindex(r.Context(), orgID, docID); err != nil {
		writeDomainError(w, err, "reindex_failed", h.logger)
		return
	}

	doc, err := h.store.Get(r.Context(), orgID, docID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}
