package queue

import "github.com/nikhilbhutani/ragchat/internal/models"

const (
	TypeIngestFile = "ingest:file"
)

// IngestFilePayload names a file already saved in the upload directory.
type IngestFilePayload struct {
	File models.FileMetadata `json:"file"`
}
