package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/terralens/terralens-api/internal/domain"
)

// ErrPreviewFailed indicates the preview publisher did not produce a
// viewer page.
var ErrPreviewFailed = errors.New("preview generation failed")

// PointcloudPreviewer resolves a stored point cloud into a browser
// preview link, publishing the viewer page on first request.
type PointcloudPreviewer interface {
	Link(ctx context.Context, obj *domain.Object, classified bool) (string, error)
}

// PreviewOptions configures the potree previewer.
type PreviewOptions struct {
	// BaseURL is the public base the viewer pages are served from. An
	// empty value disables preview generation.
	BaseURL string

	// ViewerFolder is the page directory under both BaseURL and
	// ServerRoot.
	ViewerFolder string

	// ServerRoot is the local docroot the publisher writes pages into.
	ServerRoot string

	// Command converts a LAS file into a viewer page. The previewer
	// appends the server root flag, the classified flag and the staged
	// file path.
	Command []string

	// Timeout bounds one publisher run.
	Timeout time.Duration
}

type potreePreviewer struct {
	opts    PreviewOptions
	storage Storage
	logger  *slog.Logger
}

// NewPointcloudPreviewer creates a previewer that publishes viewer pages
// keyed by object etag, so identical uploads share one page and repeat
// requests skip the publisher entirely. When no base URL is configured it
// returns a disabled previewer that resolves every object to an empty
// link.
func NewPointcloudPreviewer(opts PreviewOptions, storage Storage, logger *slog.Logger) (PointcloudPreviewer, error) {
	if opts.BaseURL == "" {
		return disabledPreviewer{}, nil
	}
	if opts.ServerRoot == "" || len(opts.Command) == 0 {
		return nil, NewAssetServiceError("init", "preview requires a server root and publish command", domain.ErrValidation)
	}
	if storage == nil {
		return nil, NewAssetServiceError("init", "storage cannot be nil", domain.ErrValidation)
	}
	if opts.ViewerFolder == "" {
		opts.ViewerFolder = "pointclouds"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &potreePreviewer{
		opts:    opts,
		storage: storage,
		logger:  logger.With(slog.String("component", "pointcloud_previewer")),
	}, nil
}

// Link returns the viewer page URL for the object, publishing the page
// first when it does not exist yet.
func (p *potreePreviewer) Link(ctx context.Context, obj *domain.Object, classified bool) (string, error) {
	if obj.ETag == "" {
		return "", fmt.Errorf("%w: object %d has no etag", ErrPreviewFailed, obj.ID)
	}

	page := obj.ETag + ".html"
	link := strings.TrimSuffix(p.opts.BaseURL, "/") + "/" + path.Join(p.opts.ViewerFolder, page)
	pagePath := filepath.Join(p.opts.ServerRoot, p.opts.ViewerFolder, page)
	if _, err := os.Stat(pagePath); err == nil {
		return link, nil
	}

	lasPath, err := p.stage(ctx, obj)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(lasPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove staged pointcloud", "path", lasPath, "error", err)
		}
	}()

	if err := p.publish(ctx, lasPath, classified); err != nil {
		return "", err
	}
	if _, err := os.Stat(pagePath); err != nil {
		return "", fmt.Errorf("%w: publisher produced no page at %s", ErrPreviewFailed, pagePath)
	}

	p.logger.Info("published pointcloud preview", "object_id", obj.ID, "page", page)
	return link, nil
}

// stage materializes the stored LAS bytes to a temp file named after the
// etag.
func (p *potreePreviewer) stage(ctx context.Context, obj *domain.Object) (string, error) {
	rc, err := p.storage.Fetch(ctx, obj.Key())
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", obj.Key(), err)
	}
	defer func() { _ = rc.Close() }()

	lasPath := filepath.Join(os.TempDir(), obj.ETag+".las")
	out, err := os.Create(lasPath)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", lasPath, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(lasPath)
		return "", fmt.Errorf("failed to stage %s: %w", lasPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(lasPath)
		return "", fmt.Errorf("failed to stage %s: %w", lasPath, err)
	}
	return lasPath, nil
}

func (p *potreePreviewer) publish(ctx context.Context, lasPath string, classified bool) error {
	flag := "--no-classified"
	if classified {
		flag = "--classified"
	}
	args := append([]string(nil), p.opts.Command[1:]...)
	args = append(args, "--potree-server-root", p.opts.ServerRoot, flag, lasPath)

	runCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.opts.Command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrPreviewFailed, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// disabledPreviewer is returned when no preview base URL is configured.
type disabledPreviewer struct{}

func (disabledPreviewer) Link(context.Context, *domain.Object, bool) (string, error) {
	return "", nil
}
