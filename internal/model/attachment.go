package model

import "fmt"

// AttachmentKind is the category of an uploaded file.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// ParseAttachmentKind validates a wire attachment type.
func ParseAttachmentKind(s string) (AttachmentKind, error) {
	switch k := AttachmentKind(s); k {
	case AttachmentImage, AttachmentVideo, AttachmentDocument:
		return k, nil
	default:
		return "", fmt.Errorf("unknown attachment type %q", s)
	}
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	Kind AttachmentKind `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
	MIME string         `json:"mimeType,omitempty"`
	Size int64          `json:"size,omitempty"`
}

// UploadStatus is the lifecycle of one file in an upload batch.
type UploadStatus string

const (
	UploadPending     UploadStatus = "pending"
	UploadCompressing UploadStatus = "compressing"
	UploadUploading   UploadStatus = "uploading"
	UploadDone        UploadStatus = "done"
	UploadError       UploadStatus = "error"
)

// UploadTask tracks one file through the attachment pipeline.
type UploadTask struct {
	Name           string
	Kind           AttachmentKind
	Size           int64
	CompressedSize int64 // zero when the file was not recompressed
	Progress       float64
	Status         UploadStatus
	Err            error
}

// Finished reports whether the task reached a terminal state.
func (t *UploadTask) Finished() bool {
	return t.Status == UploadDone || t.Status == UploadError
}

// BatchProgress returns (completedFiles + currentFileFraction) / totalFiles,
// in the range [0, 1].
func BatchProgress(completed int, current float64, total int) float64 {
	if total <= 0 {
		return 0
	}
	if current < 0 {
		current = 0
	}
	if current > 1 {
		current = 1
	}
	p := (float64(completed) + current) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}
