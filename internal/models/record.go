package models

import "time"

// Kinds of records.
const (
	KindFile   = "file"
	KindFolder = "folder"
)

// FileInfo is the file-system metadata captured when a record was loaded.
type FileInfo struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Kind    string    `json:"kind"`
}

// Record is a document plus the file-system facts about it. Repository
// queries always return copies.
type Record struct {
	Path string
	// ContentPath is the file holding the Markdown: Path itself for file
	// documents, the index file inside the directory for folder documents.
	ContentPath string
	Document    Document
	FileInfo    FileInfo
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Document = r.Document.Clone()
	return r
}

// CloneRecords deep-copies every record in rs.
func CloneRecords(rs []Record) []Record {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}
