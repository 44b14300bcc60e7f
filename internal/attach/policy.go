// Package attach validates, recompresses and uploads the files of one
// message before it is sent.
package attach

import (
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
)

const mb = 1024 * 1024

// DefaultMaxFiles caps the number of files in one batch.
const DefaultMaxFiles = 5

// Upload contexts.
const (
	ContextChat    = "chat"
	ContextAvatar  = "avatar"
	ContextListing = "listing"
)

// Policy holds the per-category size ceilings of one upload context. A
// category missing from Limits is not allowed in that context.
type Policy struct {
	Context string
	Limits  map[model.AttachmentKind]int64
}

var policies = map[string]Policy{
	ContextChat: {Context: ContextChat, Limits: map[model.AttachmentKind]int64{
		model.AttachmentImage:    10 * mb,
		model.AttachmentVideo:    100 * mb,
		model.AttachmentDocument: 5 * mb,
	}},
	ContextAvatar: {Context: ContextAvatar, Limits: map[model.AttachmentKind]int64{
		model.AttachmentImage: 2 * mb,
	}},
	ContextListing: {Context: ContextListing, Limits: map[model.AttachmentKind]int64{
		model.AttachmentImage: 5 * mb,
		model.AttachmentVideo: 50 * mb,
	}},
}

// PolicyFor returns the policy of an upload context.
func PolicyFor(uploadCtx string) (Policy, error) {
	p, ok := policies[uploadCtx]
	if !ok {
		return Policy{}, fmt.Errorf("unknown upload context %q", uploadCtx)
	}
	return p, nil
}

var (
	imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".tif", ".tiff"}
	videoExts = []string{".mp4", ".webm", ".mov"}
	docExts   = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".csv", ".zip"}

	docMIMEs = []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain",
		"text/csv",
		"application/zip",
	}
)

// Classify maps a file to its attachment category by MIME type, falling back
// to the file extension. ok is false for a disallowed type.
func Classify(name, mimeType string) (kind model.AttachmentKind, ok bool) {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "application/octet-stream" {
		switch {
		case strings.HasPrefix(mt, "image/"):
			return model.AttachmentImage, true
		case strings.HasPrefix(mt, "video/"):
			return model.AttachmentVideo, true
		case slices.Contains(docMIMEs, mt):
			return model.AttachmentDocument, true
		default:
			return "", false
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case slices.Contains(imageExts, ext):
		return model.AttachmentImage, true
	case slices.Contains(videoExts, ext):
		return model.AttachmentVideo, true
	case slices.Contains(docExts, ext):
		return model.AttachmentDocument, true
	default:
		return "", false
	}
}

// ValidationError explains why a file was excluded from a batch.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.File + ": " + e.Reason
}

// Check validates one file against the policy.
func (p Policy) Check(f File) (model.AttachmentKind, *ValidationError) {
	kind, ok := Classify(f.Name, f.MIME)
	if !ok {
		return "", &ValidationError{File: f.Name, Reason: "file type not allowed"}
	}
	limit, ok := p.Limits[kind]
	if !ok {
		return "", &ValidationError{File: f.Name, Reason: fmt.Sprintf("%s files are not allowed for %s uploads", kind, p.Context)}
	}
	if size := int64(len(f.Data)); size > limit {
		return "", &ValidationError{File: f.Name, Reason: fmt.Sprintf("file size %.1fMB exceeds the %s limit of %dMB", float64(size)/mb, kind, limit/mb)}
	}
	if len(f.Data) == 0 {
		return "", &ValidationError{File: f.Name, Reason: "file is empty"}
	}
	return kind, nil
}
