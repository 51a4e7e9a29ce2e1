package blob

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalFS writes artifacts under a root directory served by a static file
// host. The returned reference is baseURL + the relative artifact path.
type LocalFS struct {
	Root    string
	BaseURL string
}

// NewLocalFS creates a LocalFS store rooted at root.
func NewLocalFS(root, baseURL string) *LocalFS {
	return &LocalFS{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (l *LocalFS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.Clean(key) + extensionFor(contentType)
	abs := filepath.Join(l.Root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("blob mkdir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("blob write %s: %w", rel, err)
	}
	return l.BaseURL + "/" + filepath.ToSlash(rel), nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
