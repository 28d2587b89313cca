package models

import "time"

// Where a FileMetadata record's fields came from.
const (
	MetadataSourceIndex      = "index"
	MetadataSourceFilesystem = "filesystem"
)

// FileMetadata describes one uploaded file as seen by the ledger.
type FileMetadata struct {
	OriginalFilename string    `json:"original_filename"`
	StoredFilename   string    `json:"stored_filename"`
	Extension        string    `json:"extension"`
	SizeBytes        int64     `json:"size_bytes"`
	UploadedAt       time.Time `json:"uploaded_at,omitzero"`
	ModifiedAt       time.Time `json:"modified_at,omitzero"`
	Path             string    `json:"path,omitempty"`
	DocID            string    `json:"doc_id,omitempty"`
	Source           string    `json:"source,omitempty"`
	ChunkCount       int       `json:"chunk_count"`
	MetadataSource   string    `json:"metadata_source"`
}

// SortTime is uploaded_at when known, else the file modification time.
func (m FileMetadata) SortTime() time.Time {
	if !m.UploadedAt.IsZero() {
		return m.UploadedAt
	}
	return m.ModifiedAt
}
