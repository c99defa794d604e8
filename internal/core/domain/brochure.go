package domain

import "time"

type BrochureStatus string

const (
	BrochureUploaded   BrochureStatus = "uploaded"
	BrochureProcessing BrochureStatus = "processing"
	BrochureReady      BrochureStatus = "ready"
	BrochureFailed     BrochureStatus = "failed"
)

// Brochure is a project document whose chunks feed the document RAG tool.
type Brochure struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"project_name"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	ChunkCount  int            `json:"chunk_count"`
	Status      BrochureStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
