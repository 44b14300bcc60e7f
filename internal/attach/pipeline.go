package attach

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/rest"
	"go.uber.org/zap"
)

// Uploader stores one file and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, req rest.UploadRequest) (string, error)
}

// Options configures a Pipeline. Zero values take the defaults.
type Options struct {
	Context     string // upload context; defaults to chat
	MaxFiles    int
	Constraints Constraints
	Logger      *zap.Logger
}

// Progress is reported after every state change of a batch.
type Progress struct {
	Tasks   []model.UploadTask
	Current int     // index of the file being processed
	Batch   float64 // aggregate progress in [0, 1]
}

// Batch is the result of processing a selection.
type Batch struct {
	Attachments []model.Attachment
	Warnings    []*ValidationError
	Tasks       []model.UploadTask
}

// Pipeline validates, recompresses and uploads files one at a time.
type Pipeline struct {
	up     Uploader
	policy Policy
	opts   Options
	logger *zap.Logger
}

// New creates a pipeline for one upload context.
func New(up Uploader, opts Options) (*Pipeline, error) {
	if opts.Context == "" {
		opts.Context = ContextChat
	}
	policy, err := PolicyFor(opts.Context)
	if err != nil {
		return nil, err
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{up: up, policy: policy, opts: opts, logger: opts.Logger.Named("attach")}, nil
}

type accepted struct {
	file File
	kind model.AttachmentKind
}

// Validate splits a selection into accepted files and per-file warnings.
// Files past the batch cap are rejected with a warning.
func (p *Pipeline) Validate(files []File) ([]File, []*ValidationError) {
	acc, warnings := p.validate(files)
	out := make([]File, len(acc))
	for i, a := range acc {
		out[i] = a.file
	}
	return out, warnings
}

func (p *Pipeline) validate(files []File) ([]accepted, []*ValidationError) {
	var acc []accepted
	var warnings []*ValidationError
	for _, f := range files {
		kind, verr := p.policy.Check(f)
		if verr != nil {
			warnings = append(warnings, verr)
			continue
		}
		if len(acc) >= p.opts.MaxFiles {
			warnings = append(warnings, &ValidationError{File: f.Name, Reason: fmt.Sprintf("at most %d files per message", p.opts.MaxFiles)})
			continue
		}
		acc = append(acc, accepted{file: f, kind: kind})
	}
	return acc, warnings
}

// Run processes a selection. Invalid files become warnings and a failed
// upload drops only that file; the batch always runs to the end unless ctx
// is cancelled. onProgress may be nil.
func (p *Pipeline) Run(ctx context.Context, files []File, onProgress func(Progress)) Batch {
	acc, warnings := p.validate(files)
	tasks := make([]model.UploadTask, len(acc))
	for i, a := range acc {
		tasks[i] = model.UploadTask{Name: a.file.Name, Kind: a.kind, Size: a.file.Size(), Status: model.UploadPending}
	}

	// The uploader reports progress from its own goroutine.
	var mu sync.Mutex
	update := func(current int, fn func()) {
		mu.Lock()
		fn()
		if onProgress == nil {
			mu.Unlock()
			return
		}
		var frac float64
		if current < len(tasks) && !tasks[current].Finished() {
			frac = tasks[current].Progress
		}
		snap := Progress{
			Tasks:   append([]model.UploadTask(nil), tasks...),
			Current: current,
			Batch:   model.BatchProgress(finished(tasks), frac, len(tasks)),
		}
		mu.Unlock()
		onProgress(snap)
	}

	results := make([]*model.Attachment, len(acc))
	for i, a := range acc {
		if err := ctx.Err(); err != nil {
			update(i, func() { tasks[i].Status, tasks[i].Err = model.UploadError, err })
			continue
		}
		f := a.file
		if a.kind == model.AttachmentImage && f.Size() > p.opts.Constraints.Threshold {
			update(i, func() { tasks[i].Status = model.UploadCompressing })
			if c := Compress(f, p.opts.Constraints); c.Size() < f.Size() {
				f = c
				update(i, func() { tasks[i].CompressedSize = c.Size() })
			}
		}

		update(i, func() { tasks[i].Status = model.UploadUploading })
		url, err := p.up.Upload(ctx, rest.UploadRequest{
			Context: p.policy.Context,
			Name:    f.Name,
			MIME:    f.MIME,
			Kind:    a.kind,
			Size:    f.Size(),
			Body:    bytes.NewReader(f.Data),
			Progress: func(sent, total int64) {
				if total > 0 {
					update(i, func() {
						if tasks[i].Status == model.UploadUploading {
							tasks[i].Progress = min(1, float64(sent)/float64(total))
						}
					})
				}
			},
		})
		if err != nil {
			p.logger.Warn("upload failed", zap.String("file", f.Name), zap.Error(err))
			update(i, func() { tasks[i].Status, tasks[i].Err = model.UploadError, err })
			continue
		}
		update(i+1, func() { tasks[i].Status, tasks[i].Progress = model.UploadDone, 1 })
		results[i] = &model.Attachment{Kind: a.kind, URL: url, Name: f.Name, MIME: f.MIME, Size: f.Size()}
	}

	mu.Lock()
	defer mu.Unlock()
	var atts []model.Attachment
	for _, r := range results {
		if r != nil {
			atts = append(atts, *r)
		}
	}
	return Batch{Attachments: atts, Warnings: warnings, Tasks: append([]model.UploadTask(nil), tasks...)}
}

func finished(tasks []model.UploadTask) int {
	n := 0
	for i := range tasks {
		if tasks[i].Finished() {
			n++
		}
	}
	return n
}
