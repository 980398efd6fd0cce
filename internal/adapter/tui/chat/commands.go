package chat

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pixelchat/internal/domain"
)

// imageExts are the file extensions /analyze treats as a path rather than
// the start of a question.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

// LoadImageFile reads path into an ImageFile. The content type comes from the
// extension, falling back to sniffing the first bytes. Validation is left to
// the session.
func LoadImageFile(path string) (domain.ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.ImageFile{}, err
	}
	if info.IsDir() {
		return domain.ImageFile{}, fmt.Errorf("%s: is a directory", path)
	}
	name := filepath.Base(path)
	if info.Size() > domain.MaxImageFileSize {
		// Skip reading the bytes; the size alone gets the file rejected.
		return domain.ImageFile{Name: name, ContentType: contentTypeFor(path, nil), Size: info.Size()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ImageFile{}, err
	}
	return domain.ImageFile{
		Name:        name,
		ContentType: contentTypeFor(path, data),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func contentTypeFor(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		ct, _, _ = strings.Cut(ct, ";")
		return ct
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

func looksLikeImagePath(s string) bool {
	return imageExts[strings.ToLower(filepath.Ext(s))]
}

// splitArgs splits on whitespace, keeping double-quoted runs together so
// paths with spaces survive.
func splitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case (r == ' ' || r == '\t') && !inQuote:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}

// opCmd runs fn in the background and reports its completion.
func opCmd(ctx context.Context, op string, gen uint64, fn func(ctx context.Context) OpDoneMsg) tea.Cmd {
	return func() tea.Msg {
		done := fn(ctx)
		done.Op = op
		done.Gen = gen
		return done
	}
}

func revealTickCmd(rate time.Duration) tea.Cmd {
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	return tea.Tick(rate, func(time.Time) tea.Msg {
		return RevealTickMsg{}
	})
}
