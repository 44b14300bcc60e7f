package rest

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/model"
)

// ProgressFunc receives the number of file bytes sent so far and the file size.
type ProgressFunc func(sent, total int64)

// UploadRequest describes one file to upload.
type UploadRequest struct {
	Context  string // upload endpoint context, e.g. "chat"
	Name     string
	MIME     string
	Kind     model.AttachmentKind
	Size     int64
	Body     io.Reader
	Progress ProgressFunc
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload streams a file to POST /uploads/{context} as multipart form data
// and returns the URL the server stored it at.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (string, error) {
	uploadCtx := up.Context
	if uploadCtx == "" {
		uploadCtx = "chat"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, up))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads/"+uploadCtx, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp uploadResponse
	if err := c.roundTrip(req, &resp); err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("upload %s: server returned no url", up.Name)
	}
	return resp.URL, nil
}

func writeUploadForm(mw *multipart.Writer, up UploadRequest) error {
	if err := mw.WriteField("type", string(up.Kind)); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(up.Name)))
	if up.MIME != "" {
		h.Set("Content-Type", up.MIME)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	body := up.Body
	if up.Progress != nil {
		body = &progressReader{r: up.Body, total: up.Size, fn: up.Progress}
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type progressReader struct {
	r     io.Reader
	sent  atomic.Int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}
