package api

import (
	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/search"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest = docservice.CreateInput

// UpdateDocumentRequest is the request body for patching a document. The
// If-Match header carries the precondition.
type UpdateDocumentRequest struct {
	Fields  map[string]any `json:"fields"`
	Content *string        `json:"content"`
}

// DocumentDetail is the full document response type.
type DocumentDetail = docservice.Detail

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem = docservice.ListItem

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// SearchResponse is the JSON answer of the scan engine.
type SearchResponse = search.Results

// IndexSearchResponse wraps results of the index engine.
type IndexSearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// GraphResponse is the relationship graph.
type GraphResponse = graph.Graph

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	Path string `json:"path" example:"projects/apollo/plan.pdf" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
}
