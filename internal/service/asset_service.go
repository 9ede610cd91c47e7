package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/terralens/terralens-api/internal/assets"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/store"
)

// Bucket path prefixes per asset family.
const (
	imageFolder      = "images"
	pointcloudFolder = "pointclouds"
)

// AssetServiceError is a custom error type for asset service errors.
type AssetServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for AssetServiceError.
func (e *AssetServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asset service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("asset service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *AssetServiceError) Unwrap() error {
	return e.Err
}

// NewAssetServiceError creates a new AssetServiceError.
func NewAssetServiceError(operation, message string, err error) *AssetServiceError {
	return &AssetServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// SaveImageInput describes one raster upload.
type SaveImageInput struct {
	// Name is the desired object name; the stored name may gain a counter
	// suffix on collision.
	Name string

	// Path is the local file to ingest.
	Path string

	// ContentType overrides extension-based detection when set.
	ContentType string

	// Origin defaults to OriginUser.
	Origin domain.OriginKind

	// ThumbnailFormat is the derived thumbnail encoding ("jpg" or "png");
	// defaults to jpg. Only consulted for TIFF sources.
	ThumbnailFormat string

	// MaskColors, when set, additionally derives an SVG overlay from the
	// thumbnail (the source is assumed to be a mask raster).
	MaskColors assets.ColorMap
}

// SavedImage reports the rows created by one image ingest. Thumbnail and
// MaskSVG are nil unless derived.
type SavedImage struct {
	Image     store.ImageRecord
	Thumbnail *store.ImageRecord
	MaskSVG   *store.ImageRecord
}

// SavePointcloudInput describes one point-cloud upload.
type SavePointcloudInput struct {
	Name        string
	Path        string
	ContentType string
	Origin      domain.OriginKind
}

// ImageView is an image record enriched with share links.
type ImageView struct {
	store.ImageRecord
	Link          string `json:"link"`
	ThumbnailLink string `json:"thumbnail_link,omitempty"`
}

// PointcloudView is a point-cloud record enriched with a share link and,
// when preview generation is configured, a browser viewer link.
type PointcloudView struct {
	store.PointcloudRecord
	Link        string `json:"link"`
	PreviewLink string `json:"preview_link,omitempty"`
}

// AssetService ingests uploads into object storage plus the metadata
// tables, derives thumbnails and mask overlays, and resolves stored assets
// into share-linked views.
type AssetService interface {
	SaveImage(ctx context.Context, in SaveImageInput) (*SavedImage, error)
	SavePointcloud(ctx context.Context, in SavePointcloudInput) (*store.PointcloudRecord, error)

	GetImage(ctx context.Context, id int64) (*ImageView, error)
	GetPointcloud(ctx context.Context, id int64) (*PointcloudView, error)
	ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]ImageView, error)
	ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]PointcloudView, error)

	// ImageRef and PointcloudRef resolve foreign keys on task rows into
	// share-linked references.
	ImageRef(ctx context.Context, imageID int64) (domain.AssetRef, error)
	PointcloudRef(ctx context.Context, pointcloudID int64) (domain.AssetRef, error)

	// DeleteObject removes the metadata row and the stored bytes together.
	DeleteObject(ctx context.Context, objectID int64) error
}

type assetServiceImpl struct {
	db       *sql.DB
	objects  ObjectRepository
	storage  Storage
	previews PointcloudPreviewer
	logger   *slog.Logger
}

// NewAssetService creates a new AssetService.
// It returns an error if any of the required dependencies are nil.
// previews may be nil; point-cloud views then carry no preview link.
func NewAssetService(
	db *sql.DB,
	objects ObjectRepository,
	storage Storage,
	previews PointcloudPreviewer,
	logger *slog.Logger,
) (AssetService, error) {
	if db == nil {
		return nil, NewAssetServiceError("init", "db cannot be nil", domain.ErrValidation)
	}
	if objects == nil {
		return nil, NewAssetServiceError("init", "objects cannot be nil", domain.ErrValidation)
	}
	if storage == nil {
		return nil, NewAssetServiceError("init", "storage cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &assetServiceImpl{
		db:       db,
		objects:  objects,
		storage:  storage,
		previews: previews,
		logger:   logger.With(slog.String("component", "asset_service")),
	}, nil
}

// SaveImage uploads the raster, records its metadata, and for TIFF
// sources derives a browser-displayable thumbnail (and optionally a mask
// overlay) chained onto the original via thumbnail_id.
func (s *assetServiceImpl) SaveImage(ctx context.Context, in SaveImageInput) (*SavedImage, error) {
	if in.Origin == "" {
		in.Origin = domain.OriginUser
	}
	if in.ThumbnailFormat == "" {
		in.ThumbnailFormat = "jpg"
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = detectContentType(in.Name)
	}

	rec, err := s.saveImageFile(ctx, in.Name, in.Path, contentType, in.Origin)
	if err != nil {
		return nil, err
	}
	saved := &SavedImage{Image: *rec}

	// Wide-gamut TIFFs are not browser-displayable; derive a preview.
	// The overlay, when requested, renders from the preview so its
	// coordinates match what the browser shows, or from the source
	// directly when no preview was needed.
	overlaySource := in.Path
	if contentType == "image/tiff" {
		thumbPath, err := assets.DeriveThumbnail(in.Path, in.ThumbnailFormat)
		if err != nil {
			return nil, NewAssetServiceError("save_image", "failed to derive thumbnail", err)
		}
		defer func() {
			if err := os.Remove(thumbPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove scratch thumbnail", "path", thumbPath, "error", err)
			}
		}()

		thumbName := replaceNameExt(in.Name, "."+in.ThumbnailFormat)
		thumbRec, err := s.saveImageFile(ctx, thumbName, thumbPath, detectContentType(thumbName), domain.OriginThumbnail)
		if err != nil {
			return nil, err
		}
		if err := s.objects.SetThumbnail(ctx, rec.Object.ID, thumbRec.Image.ID); err != nil {
			return nil, NewAssetServiceError("save_image", "failed to link thumbnail", err)
		}
		saved.Image.Image.ThumbnailID = &thumbRec.Image.ID
		saved.Thumbnail = thumbRec
		overlaySource = thumbPath
	}

	if len(in.MaskColors) > 0 {
		svgPath, err := assets.DeriveMaskOverlay(overlaySource, in.MaskColors)
		if err != nil {
			return nil, NewAssetServiceError("save_image", "failed to derive mask overlay", err)
		}
		defer func() {
			if err := os.Remove(svgPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove scratch overlay", "path", svgPath, "error", err)
			}
		}()

		svgName := replaceNameExt(in.Name, ".svg")
		svgRec, err := s.saveImageFileAs(ctx, svgName, svgPath, "image/svg+xml", domain.OriginMaskSVG, nil)
		if err != nil {
			return nil, err
		}
		saved.MaskSVG = svgRec
	}

	return saved, nil
}

// saveImageFile uploads a raster file and records the object and image
// rows in one transaction.
func (s *assetServiceImpl) saveImageFile(ctx context.Context, name, localPath, contentType string, origin domain.OriginKind) (*store.ImageRecord, error) {
	meta, err := assets.ReadImageMeta(localPath)
	if err != nil {
		return nil, NewAssetServiceError("save_image", "failed to read image metadata", err)
	}
	return s.saveImageFileAs(ctx, name, localPath, contentType, origin, &meta)
}

// saveImageFileAs is saveImageFile with the metadata decode optional; SVG
// overlays have no raster dimensions to record.
func (s *assetServiceImpl) saveImageFileAs(ctx context.Context, name, localPath, contentType string, origin domain.OriginKind, meta *assets.ImageMeta) (*store.ImageRecord, error) {
	obj, err := s.uploadObject(ctx, imageFolder, name, localPath, contentType, origin, domain.ObjectTypeImage)
	if err != nil {
		return nil, err
	}

	img := &domain.Image{}
	if meta != nil {
		img.Width = meta.Width
		img.Height = meta.Height
		img.BitDepth = meta.BitDepth
		img.ChannelCount = meta.ChannelCount
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		repo := s.objects.WithTx(tx)
		if err := repo.CreateObject(ctx, obj); err != nil {
			return err
		}
		img.ObjectID = obj.ID
		return repo.CreateImage(ctx, img)
	})
	if err != nil {
		// Roll back the upload so storage does not accumulate orphans.
		s.removeStored(ctx, obj.Key())
		return nil, NewAssetServiceError("save_image", "failed to record image metadata", err)
	}

	return &store.ImageRecord{Image: *img, Object: *obj}, nil
}

// SavePointcloud uploads a LAS file and records its metadata, including
// the point count read from the LAS header.
func (s *assetServiceImpl) SavePointcloud(ctx context.Context, in SavePointcloudInput) (*store.PointcloudRecord, error) {
	if in.Origin == "" {
		in.Origin = domain.OriginUser
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/vnd.las"
	}

	pointCount, err := assets.LASPointCount(in.Path)
	if err != nil {
		return nil, NewAssetServiceError("save_pointcloud", "failed to read LAS header", err)
	}

	obj, err := s.uploadObject(ctx, pointcloudFolder, in.Name, in.Path, contentType, in.Origin, domain.ObjectTypePointcloud)
	if err != nil {
		return nil, err
	}

	pc := &domain.Pointcloud{PointCount: pointCount}
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		repo := s.objects.WithTx(tx)
		if err := repo.CreateObject(ctx, obj); err != nil {
			return err
		}
		pc.ObjectID = obj.ID
		return repo.CreatePointcloud(ctx, pc)
	})
	if err != nil {
		s.removeStored(ctx, obj.Key())
		return nil, NewAssetServiceError("save_pointcloud", "failed to record pointcloud metadata", err)
	}

	return &store.PointcloudRecord{Pointcloud: *pc, Object: *obj}, nil
}

// uploadObject streams a local file into the bucket under folder/name and
// returns the unsaved object row describing it.
func (s *assetServiceImpl) uploadObject(ctx context.Context, folder, name, localPath, contentType string, origin domain.OriginKind, objType domain.ObjectType) (*domain.Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, NewAssetServiceError("upload", "failed to open source file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewAssetServiceError("upload", "failed to stat source file", err)
	}

	result, err := s.storage.Put(ctx, folder+"/"+name, f, info.Size(), contentType)
	if err != nil {
		return nil, NewAssetServiceError("upload", "failed to upload to object storage", err)
	}

	return &domain.Object{
		Name:        path.Base(result.Key),
		Folders:     folder,
		OriginName:  name,
		OriginKind:  origin,
		Type:        objType,
		ContentType: contentType,
		Size:        result.Size,
		ETag:        result.ETag,
	}, nil
}

// GetImage retrieves one image with its share links.
func (s *assetServiceImpl) GetImage(ctx context.Context, id int64) (*ImageView, error) {
	rec, err := s.objects.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &ImageView{ImageRecord: *rec, Link: s.storage.ShareLink(rec.Object.Key())}
	if rec.Image.ThumbnailID != nil {
		if link, err := s.imageLink(ctx, *rec.Image.ThumbnailID); err == nil {
			view.ThumbnailLink = link
		}
	}
	return view, nil
}

// GetPointcloud retrieves one point cloud with its share link and, when a
// previewer is configured, its viewer page link. Preview failures are
// logged and leave the link empty; the point cloud itself is still
// served.
func (s *assetServiceImpl) GetPointcloud(ctx context.Context, id int64) (*PointcloudView, error) {
	rec, err := s.objects.GetPointcloud(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &PointcloudView{PointcloudRecord: *rec, Link: s.storage.ShareLink(rec.Object.Key())}

	if s.previews != nil {
		// Classified renderings exist only for analysis outputs.
		classified := rec.Object.OriginKind == domain.OriginSystem
		link, err := s.previews.Link(ctx, &rec.Object, classified)
		if err != nil {
			s.logger.Warn("failed to resolve pointcloud preview",
				"object_id", rec.Object.ID, "error", err)
		} else {
			view.PreviewLink = link
		}
	}
	return view, nil
}

// ListImages lists images filtered by origin kind, enriched with links.
func (s *assetServiceImpl) ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]ImageView, error) {
	recs, err := s.objects.ListImages(ctx, origins, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]ImageView, 0, len(recs))
	for _, rec := range recs {
		view := ImageView{ImageRecord: rec, Link: s.storage.ShareLink(rec.Object.Key())}
		if rec.Image.ThumbnailID != nil {
			if link, err := s.imageLink(ctx, *rec.Image.ThumbnailID); err == nil {
				view.ThumbnailLink = link
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ListPointclouds lists point clouds filtered by origin kind, enriched
// with links.
func (s *assetServiceImpl) ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]PointcloudView, error) {
	recs, err := s.objects.ListPointclouds(ctx, origins, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]PointcloudView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, PointcloudView{PointcloudRecord: rec, Link: s.storage.ShareLink(rec.Object.Key())})
	}
	return views, nil
}

// ImageRef resolves an image foreign key into a share-linked reference.
func (s *assetServiceImpl) ImageRef(ctx context.Context, imageID int64) (domain.AssetRef, error) {
	rec, err := s.objects.GetImage(ctx, imageID)
	if err != nil {
		return domain.AssetRef{}, err
	}
	ref := domain.AssetRef{
		ID:       rec.Image.ID,
		ObjectID: rec.Object.ID,
		Link:     s.storage.ShareLink(rec.Object.Key()),
	}
	if rec.Image.ThumbnailID != nil {
		if link, err := s.imageLink(ctx, *rec.Image.ThumbnailID); err == nil {
			ref.ThumbnailLink = link
		}
	}
	return ref, nil
}

// PointcloudRef resolves a point-cloud foreign key into a share-linked
// reference.
func (s *assetServiceImpl) PointcloudRef(ctx context.Context, pointcloudID int64) (domain.AssetRef, error) {
	rec, err := s.objects.GetPointcloud(ctx, pointcloudID)
	if err != nil {
		return domain.AssetRef{}, err
	}
	return domain.AssetRef{
		ID:       rec.Pointcloud.ID,
		ObjectID: rec.Object.ID,
		Link:     s.storage.ShareLink(rec.Object.Key()),
	}, nil
}

// DeleteObject removes the metadata row and then the stored bytes. The
// database delete runs first so a failed storage delete leaves an
// unreferenced object rather than a dangling row.
func (s *assetServiceImpl) DeleteObject(ctx context.Context, objectID int64) error {
	obj, err := s.objects.GetObject(ctx, objectID)
	if err != nil {
		return err
	}

	// A derived thumbnail has no life of its own; reap it with the
	// source. Best-effort, like the task output sweep.
	if obj.Type == domain.ObjectTypeImage {
		s.reapThumbnail(ctx, objectID)
	}

	if err := s.objects.DeleteObject(ctx, objectID); err != nil {
		return NewAssetServiceError("delete", "failed to delete object row", err)
	}
	s.removeStored(ctx, obj.Key())
	return nil
}

func (s *assetServiceImpl) reapThumbnail(ctx context.Context, objectID int64) {
	rec, err := s.objects.GetImageByObjectID(ctx, objectID)
	if err != nil || rec.Image.ThumbnailID == nil {
		return
	}
	thumb, err := s.objects.GetImage(ctx, *rec.Image.ThumbnailID)
	if err != nil {
		s.logger.Warn("dangling thumbnail reference",
			"object_id", objectID, "thumbnail_id", *rec.Image.ThumbnailID, "error", err)
		return
	}
	if err := s.objects.DeleteObject(ctx, thumb.Object.ID); err != nil {
		s.logger.Warn("failed to delete thumbnail row",
			"object_id", thumb.Object.ID, "error", err)
		return
	}
	s.removeStored(ctx, thumb.Object.Key())
}

func (s *assetServiceImpl) removeStored(ctx context.Context, key string) {
	if err := s.storage.Remove(ctx, key); err != nil {
		s.logger.Error("failed to remove stored object", "key", key, "error", err)
	}
}

func (s *assetServiceImpl) imageLink(ctx context.Context, imageID int64) (string, error) {
	rec, err := s.objects.GetImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	return s.storage.ShareLink(rec.Object.Key()), nil
}

func detectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	// The host mime table may not know geospatial formats.
	switch ext {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".las":
		return "application/vnd.las"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func replaceNameExt(name, newExt string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + newExt
}
