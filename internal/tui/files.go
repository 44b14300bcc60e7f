package tui

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/chatsync/internal/attach"
)

// loadFiles reads the files named by an /attach command. The MIME type comes
// from the extension and falls back to content sniffing.
func loadFiles(paths []string) ([]attach.File, error) {
	files := make([]attach.File, 0, len(paths))
	for _, p := range paths {
		p = expandHome(p)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("attach: %w", err)
		}
		files = append(files, attach.File{
			Name: filepath.Base(p),
			MIME: detectMIME(p, data),
			Data: data,
		})
	}
	return files, nil
}

func detectMIME(path string, data []byte) string {
	t := mime.TypeByExtension(filepath.Ext(path))
	if t == "" {
		t = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}
