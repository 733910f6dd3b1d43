package review

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserPresenter writes the review document to disk and tries to open
// it in the reviewer's browser. When no opener is available (headless
// box, SSH session) it logs the file path instead.
type BrowserPresenter struct {
	// Dir receives the rendered documents. Empty means the OS temp dir.
	Dir string
}

func (p *BrowserPresenter) Present(_ context.Context, item *Item) error {
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("review_%d.html", item.Extraction.ID))
	if err := os.WriteFile(path, item.ReviewHTML, 0o644); err != nil {
		return eris.Wrapf(err, "review: write %s", path)
	}

	log := zap.L().With(
		zap.Int64("extraction_id", item.Extraction.ID),
		zap.String("unit_id", item.Unit.UnitID),
		zap.String("path", path))

	if err := openBrowser(path); err != nil {
		log.Info("review document ready, open it manually")
		return nil
	}
	log.Info("review document opened in browser")
	return nil
}

func openBrowser(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
