package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText returns the text of every page, pages separated by a blank
// line. A file the reader cannot parse is rewritten by pdfcpu in relaxed
// mode, which repairs broken cross-reference tables, and read once more.
func extractPDFText(ctx context.Context, path string) (string, error) {
	text, err := readPDFText(ctx, path)
	if err == nil {
		return text, nil
	}

	dir, derr := os.MkdirTemp("", "ragagent-pdf-*")
	if derr != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	defer os.RemoveAll(dir)

	repaired := filepath.Join(dir, "repaired.pdf")
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if rerr := api.OptimizeFile(path, repaired, conf); rerr != nil {
		return "", fmt.Errorf("read pdf: %w (repair failed: %v)", err, rerr)
	}
	text, rerr := readPDFText(ctx, repaired)
	if rerr != nil {
		return "", fmt.Errorf("read repaired pdf: %w", rerr)
	}
	return text, nil
}

func readPDFText(ctx context.Context, path string) (text string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	// The reader panics on some malformed objects.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", err
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		// Font resource names are page-local, so each page resolves its own.
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if s := strings.TrimSpace(pageText); s != "" {
			pages = append(pages, s)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
