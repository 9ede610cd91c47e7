package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/terralens/terralens-api/internal/assets"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
	"github.com/terralens/terralens-api/internal/store"
)

// HandlerDeps bundles the collaborators shared by every handler.
type HandlerDeps struct {
	Tasks      service.TaskRepository
	TaskSvc    service.TaskService
	Assets     service.AssetService
	Objects    service.ObjectRepository
	Storage    service.Storage
	Inference  *Inference
	ScratchDir string
	Logger     *slog.Logger
}

// handlerBase carries the staging plumbing common to all kinds.
type handlerBase struct {
	HandlerDeps
}

// newScratch creates a unique scratch directory for one task run. The
// returned cleanup removes it with everything inside.
func (h *handlerBase) newScratch() (string, func(), error) {
	dir := filepath.Join(h.ScratchDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir %s: %w", dir, err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			h.Logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// stageImage copies the stored image into the scratch directory and
// returns the local path.
func (h *handlerBase) stageImage(ctx context.Context, dir string, imageID int64) (string, error) {
	rec, err := h.Objects.GetImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	return h.stage(ctx, dir, rec.Object.Key(), rec.Object.Name)
}

// stagePointcloud copies the stored point cloud into the scratch
// directory and returns the local path.
func (h *handlerBase) stagePointcloud(ctx context.Context, dir string, pointcloudID int64) (string, error) {
	rec, err := h.Objects.GetPointcloud(ctx, pointcloudID)
	if err != nil {
		return "", err
	}
	return h.stage(ctx, dir, rec.Object.Key(), rec.Object.Name)
}

func (h *handlerBase) stage(ctx context.Context, dir, key, name string) (string, error) {
	reader, err := h.Storage.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	localPath := filepath.Join(dir, name)
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return localPath, nil
}

// logMissing reports a descriptor whose task row no longer exists. The
// handler returns nil in that case; a deleted task is not a failure.
func (h *handlerBase) logMissing(desc domain.Descriptor) {
	h.Logger.Warn("task row not found, skipping descriptor",
		"type", desc.Kind,
		"task_id", desc.ID,
		"project_id", desc.ProjectID)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Detection2DHandler runs 2D object detection: the model annotates the
// input raster and the plot image becomes the task's output.
type Detection2DHandler struct {
	handlerBase
	command []string
}

// NewDetection2DHandler creates the 2D detection handler.
func NewDetection2DHandler(deps HandlerDeps, command []string) *Detection2DHandler {
	return &Detection2DHandler{handlerBase: handlerBase{HandlerDeps: deps}, command: command}
}

// Kind implements Handler.
func (h *Detection2DHandler) Kind() domain.TaskKind { return domain.KindDetection2D }

// Run implements Handler.
func (h *Detection2DHandler) Run(ctx context.Context, desc domain.Descriptor) error {
	t, err := h.Tasks.GetDetection2D(ctx, desc.ID)
	if err != nil {
		if store.IsNotFoundError(err) {
			h.logMissing(desc)
			return nil
		}
		return err
	}

	dir, cleanup, err := h.newScratch()
	if err != nil {
		return err
	}
	defer cleanup()

	inputPath, err := h.stageImage(ctx, dir, t.ImageID)
	if err != nil {
		return err
	}

	outputPath := filepath.Join(dir, stem(inputPath)+"_plot.png")
	if err := h.Inference.Run(ctx, h.command, []string{inputPath}, outputPath); err != nil {
		return err
	}

	saved, err := h.Assets.SaveImage(ctx, service.SaveImageInput{
		Name:   filepath.Base(outputPath),
		Path:   outputPath,
		Origin: domain.OriginSystem,
	})
	if err != nil {
		return err
	}

	return h.TaskSvc.CompleteDetection2D(ctx, t.ID, t.ProjectID, saved.Image.Image.ID)
}

// Segmentation2DHandler runs 2D semantic segmentation: the model emits a
// color-coded mask raster, and a vector overlay is derived from it.
type Segmentation2DHandler struct {
	handlerBase
	command []string
	palette assets.ColorMap
}

// NewSegmentation2DHandler creates the 2D segmentation handler.
func NewSegmentation2DHandler(deps HandlerDeps, command []string, palette assets.ColorMap) *Segmentation2DHandler {
	return &Segmentation2DHandler{
		handlerBase: handlerBase{HandlerDeps: deps},
		command:     command,
		palette:     palette,
	}
}

// Kind implements Handler.
func (h *Segmentation2DHandler) Kind() domain.TaskKind { return domain.KindSegmentation2D }

// Run implements Handler.
func (h *Segmentation2DHandler) Run(ctx context.Context, desc domain.Descriptor) error {
	t, err := h.Tasks.GetSegmentation2D(ctx, desc.ID)
	if err != nil {
		if store.IsNotFoundError(err) {
			h.logMissing(desc)
			return nil
		}
		return err
	}

	dir, cleanup, err := h.newScratch()
	if err != nil {
		return err
	}
	defer cleanup()

	inputPath, err := h.stageImage(ctx, dir, t.ImageID)
	if err != nil {
		return err
	}

	outputPath := filepath.Join(dir, stem(inputPath)+"_mask.png")
	if err := h.Inference.Run(ctx, h.command, []string{inputPath}, outputPath); err != nil {
		return err
	}

	saved, err := h.Assets.SaveImage(ctx, service.SaveImageInput{
		Name:       filepath.Base(outputPath),
		Path:       outputPath,
		Origin:     domain.OriginSystem,
		MaskColors: h.palette,
	})
	if err != nil {
		return err
	}
	if saved.MaskSVG == nil {
		return fmt.Errorf("%w: overlay not derived", ErrNoOutput)
	}

	return h.TaskSvc.CompleteSegmentation2D(ctx, t.ID, t.ProjectID, saved.Image.Image.ID, saved.MaskSVG.Image.ID)
}

// ChangeDetection2DHandler runs 2D change detection over a pair of
// co-registered rasters; the model emits a change mask raster.
type ChangeDetection2DHandler struct {
	handlerBase
	command []string
	palette assets.ColorMap
}

// NewChangeDetection2DHandler creates the 2D change detection handler.
func NewChangeDetection2DHandler(deps HandlerDeps, command []string, palette assets.ColorMap) *ChangeDetection2DHandler {
	return &ChangeDetection2DHandler{
		handlerBase: handlerBase{HandlerDeps: deps},
		command:     command,
		palette:     palette,
	}
}

// Kind implements Handler.
func (h *ChangeDetection2DHandler) Kind() domain.TaskKind { return domain.KindChangeDetection2D }

// Run implements Handler.
func (h *ChangeDetection2DHandler) Run(ctx context.Context, desc domain.Descriptor) error {
	t, err := h.Tasks.GetChangeDetection2D(ctx, desc.ID)
	if err != nil {
		if store.IsNotFoundError(err) {
			h.logMissing(desc)
			return nil
		}
		return err
	}

	dir, cleanup, err := h.newScratch()
	if err != nil {
		return err
	}
	defer cleanup()

	input1, err := h.stageImage(ctx, dir, t.Image1ID)
	if err != nil {
		return err
	}
	input2, err := h.stageImage(ctx, dir, t.Image2ID)
	if err != nil {
		return err
	}

	outputPath := filepath.Join(dir, stem(input1)+"_change_mask.png")
	if err := h.Inference.Run(ctx, h.command, []string{input1, input2}, outputPath); err != nil {
		return err
	}

	saved, err := h.Assets.SaveImage(ctx, service.SaveImageInput{
		Name:       filepath.Base(outputPath),
		Path:       outputPath,
		Origin:     domain.OriginSystem,
		MaskColors: h.palette,
	})
	if err != nil {
		return err
	}
	if saved.MaskSVG == nil {
		return fmt.Errorf("%w: overlay not derived", ErrNoOutput)
	}

	return h.TaskSvc.CompleteChangeDetection2D(ctx, t.ID, t.ProjectID, saved.Image.Image.ID, saved.MaskSVG.Image.ID)
}

// Segmentation3DHandler runs 3D point-cloud segmentation: the model
// writes a classified copy of the input cloud.
type Segmentation3DHandler struct {
	handlerBase
	command []string
}

// NewSegmentation3DHandler creates the 3D segmentation handler.
func NewSegmentation3DHandler(deps HandlerDeps, command []string) *Segmentation3DHandler {
	return &Segmentation3DHandler{handlerBase: handlerBase{HandlerDeps: deps}, command: command}
}

// Kind implements Handler.
func (h *Segmentation3DHandler) Kind() domain.TaskKind { return domain.KindSegmentation3D }

// Run implements Handler.
func (h *Segmentation3DHandler) Run(ctx context.Context, desc domain.Descriptor) error {
	t, err := h.Tasks.GetSegmentation3D(ctx, desc.ID)
	if err != nil {
		if store.IsNotFoundError(err) {
			h.logMissing(desc)
			return nil
		}
		return err
	}

	dir, cleanup, err := h.newScratch()
	if err != nil {
		return err
	}
	defer cleanup()

	inputPath, err := h.stagePointcloud(ctx, dir, t.PointcloudID)
	if err != nil {
		return err
	}

	outputPath := filepath.Join(dir, stem(inputPath)+"_seg.las")
	if err := h.Inference.Run(ctx, h.command, []string{inputPath}, outputPath); err != nil {
		return err
	}

	saved, err := h.Assets.SavePointcloud(ctx, service.SavePointcloudInput{
		Name:   filepath.Base(outputPath),
		Path:   outputPath,
		Origin: domain.OriginSystem,
	})
	if err != nil {
		return err
	}

	return h.TaskSvc.CompleteSegmentation3D(ctx, t.ID, t.ProjectID, saved.Pointcloud.ID)
}
