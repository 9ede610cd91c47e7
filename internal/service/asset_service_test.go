package service

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/terralens/terralens-api/internal/assets"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/store"
)

type assetServiceFixture struct {
	svc      AssetService
	mock     sqlmock.Sqlmock
	objects  *fakeObjectRepo
	storage  *fakeStorage
	previews *fakePreviewer
}

func newAssetServiceFixture(t *testing.T) *assetServiceFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &assetServiceFixture{
		mock:     mock,
		objects:  newFakeObjectRepo(),
		storage:  &fakeStorage{},
		previews: &fakePreviewer{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewAssetService(db, f.objects, f.storage, f.previews, logger)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func writeTestPNG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	path := filepath.Join(dir, "upload.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
	return path
}

func writeTestTIFF(t *testing.T, dir string, width, height int, fill color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	path := filepath.Join(dir, "field.tif")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, tiff.Encode(file, img, nil))
	return path
}

func TestSaveImage_PNG(t *testing.T) {
	f := newAssetServiceFixture(t)
	path := writeTestPNG(t, t.TempDir(), 640, 480)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	saved, err := f.svc.SaveImage(context.Background(), SaveImageInput{
		Name: "field.png",
		Path: path,
	})
	require.NoError(t, err)

	assert.Equal(t, "field.png", saved.Image.Object.Name)
	assert.Equal(t, "images", saved.Image.Object.Folders)
	assert.Equal(t, domain.OriginUser, saved.Image.Object.OriginKind)
	assert.Equal(t, "image/png", saved.Image.Object.ContentType)
	assert.Equal(t, 640, saved.Image.Image.Width)
	assert.Equal(t, 480, saved.Image.Image.Height)

	// PNG sources are browser-displayable; no derived assets.
	assert.Nil(t, saved.Thumbnail)
	assert.Nil(t, saved.MaskSVG)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSaveImage_TIFFDerivesThumbnailChain(t *testing.T) {
	f := newAssetServiceFixture(t)
	path := writeTestTIFF(t, t.TempDir(), 32, 16, color.NRGBA{R: 200, A: 255})

	// Three metadata writes: source, thumbnail, overlay.
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	colors, err := assets.NewColorMap(
		[]assets.ClassColor{{Label: "building", Color: [3]uint8{200, 0, 0}}},
		assets.OrderRGB)
	require.NoError(t, err)

	saved, err := f.svc.SaveImage(context.Background(), SaveImageInput{
		Name:            "field.tif",
		Path:            path,
		ThumbnailFormat: "png",
		MaskColors:      colors,
	})
	require.NoError(t, err)

	assert.Equal(t, "image/tiff", saved.Image.Object.ContentType)
	assert.Equal(t, 32, saved.Image.Image.Width)

	require.NotNil(t, saved.Thumbnail)
	assert.Equal(t, "field.png", saved.Thumbnail.Object.Name)
	assert.Equal(t, domain.OriginThumbnail, saved.Thumbnail.Object.OriginKind)
	assert.Equal(t, "image/png", saved.Thumbnail.Object.ContentType)

	// The source row is chained onto its preview.
	require.NotNil(t, saved.Image.Image.ThumbnailID)
	assert.Equal(t, saved.Thumbnail.Image.ID, *saved.Image.Image.ThumbnailID)
	assert.Equal(t, saved.Thumbnail.Image.ID, f.objects.thumbnails[saved.Image.Object.ID])

	// The overlay renders from the preview, not the raw TIFF.
	require.NotNil(t, saved.MaskSVG)
	assert.Equal(t, "field.svg", saved.MaskSVG.Object.Name)
	assert.Equal(t, domain.OriginMaskSVG, saved.MaskSVG.Object.OriginKind)
	assert.Equal(t, "image/svg+xml", saved.MaskSVG.Object.ContentType)
	assert.Zero(t, saved.MaskSVG.Image.Width)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSaveImage_MetadataFailureRemovesUpload(t *testing.T) {
	f := newAssetServiceFixture(t)
	path := writeTestPNG(t, t.TempDir(), 16, 16)
	f.objects.createObjectErr = store.ErrDuplicate

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.SaveImage(context.Background(), SaveImageInput{
		Name: "field.png",
		Path: path,
	})
	require.Error(t, err)

	var svcErr *AssetServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "save_image", svcErr.Operation)

	// The uploaded bytes must not outlive the failed metadata write.
	assert.Equal(t, []string{"images/field.png"}, f.storage.removed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSaveImage_UnreadableSource(t *testing.T) {
	f := newAssetServiceFixture(t)

	_, err := f.svc.SaveImage(context.Background(), SaveImageInput{
		Name: "field.png",
		Path: filepath.Join(t.TempDir(), "missing.png"),
	})
	require.Error(t, err)
	assert.Empty(t, f.storage.removed)
}

func TestImageRef_WithThumbnail(t *testing.T) {
	f := newAssetServiceFixture(t)

	thumbID := int64(31)
	f.objects.images[thumbID] = &store.ImageRecord{
		Image:  domain.Image{ID: thumbID, ObjectID: 310},
		Object: domain.Object{ID: 310, Name: "field_thumb.jpg", Folders: "images"},
	}
	f.objects.images[7] = &store.ImageRecord{
		Image:  domain.Image{ID: 7, ObjectID: 70, ThumbnailID: &thumbID},
		Object: domain.Object{ID: 70, Name: "field.tif", Folders: "images"},
	}

	ref, err := f.svc.ImageRef(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.ID)
	assert.Equal(t, int64(70), ref.ObjectID)
	assert.Equal(t, "https://cdn.example.com/geodata/images/field.tif", ref.Link)
	assert.Equal(t, "https://cdn.example.com/geodata/images/field_thumb.jpg", ref.ThumbnailLink)
}

func TestImageRef_NotFound(t *testing.T) {
	f := newAssetServiceFixture(t)

	_, err := f.svc.ImageRef(context.Background(), 404)
	assert.True(t, store.IsNotFoundError(err))
}

func TestPointcloudRef(t *testing.T) {
	f := newAssetServiceFixture(t)

	f.objects.pointclouds[9] = &store.PointcloudRecord{
		Pointcloud: domain.Pointcloud{ID: 9, ObjectID: 90, PointCount: 12345},
		Object:     domain.Object{ID: 90, Name: "scan.las", Folders: "pointclouds"},
	}

	ref, err := f.svc.PointcloudRef(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/geodata/pointclouds/scan.las", ref.Link)
}

func TestGetPointcloud_PreviewLink(t *testing.T) {
	f := newAssetServiceFixture(t)

	f.objects.pointclouds[9] = &store.PointcloudRecord{
		Pointcloud: domain.Pointcloud{ID: 9, ObjectID: 90, PointCount: 12345},
		Object: domain.Object{
			ID: 90, Name: "scan.las", Folders: "pointclouds",
			OriginKind: domain.OriginSystem, ETag: "abc123",
		},
	}
	f.previews.links = map[int64]string{90: "https://potree.example.com/pointclouds/abc123.html"}

	view, err := f.svc.GetPointcloud(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/geodata/pointclouds/scan.las", view.Link)
	assert.Equal(t, "https://potree.example.com/pointclouds/abc123.html", view.PreviewLink)

	// Analysis outputs get the classified rendering.
	assert.Equal(t, []int64{90}, f.previews.calls)
	assert.Equal(t, []bool{true}, f.previews.classified)
}

func TestGetPointcloud_PreviewFailureLeavesLinkEmpty(t *testing.T) {
	f := newAssetServiceFixture(t)

	f.objects.pointclouds[9] = &store.PointcloudRecord{
		Pointcloud: domain.Pointcloud{ID: 9, ObjectID: 90},
		Object:     domain.Object{ID: 90, Name: "scan.las", Folders: "pointclouds", ETag: "abc123"},
	}
	f.previews.linkErr = ErrPreviewFailed

	view, err := f.svc.GetPointcloud(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, view.PreviewLink)
	assert.NotEmpty(t, view.Link)
}

func TestDeleteObject(t *testing.T) {
	f := newAssetServiceFixture(t)

	f.objects.objects[70] = &domain.Object{ID: 70, Name: "field.tif", Folders: "images"}

	require.NoError(t, f.svc.DeleteObject(context.Background(), 70))
	assert.Equal(t, []int64{70}, f.objects.deletedObjects)
	assert.Equal(t, []string{"images/field.tif"}, f.storage.removed)
}

func TestDeleteObject_ReapsDerivedThumbnail(t *testing.T) {
	f := newAssetServiceFixture(t)

	thumbID := int64(6)
	f.objects.objects[70] = &domain.Object{ID: 70, Name: "field.tif", Folders: "images", Type: domain.ObjectTypeImage}
	f.objects.objects[71] = &domain.Object{ID: 71, Name: "field.png", Folders: "images", Type: domain.ObjectTypeImage}
	f.objects.images[5] = &store.ImageRecord{
		Image:  domain.Image{ID: 5, ObjectID: 70, ThumbnailID: &thumbID},
		Object: domain.Object{ID: 70, Name: "field.tif", Folders: "images"},
	}
	f.objects.images[6] = &store.ImageRecord{
		Image:  domain.Image{ID: 6, ObjectID: 71},
		Object: domain.Object{ID: 71, Name: "field.png", Folders: "images"},
	}

	require.NoError(t, f.svc.DeleteObject(context.Background(), 70))
	assert.Equal(t, []int64{71, 70}, f.objects.deletedObjects)
	assert.Equal(t, []string{"images/field.png", "images/field.tif"}, f.storage.removed)
}

func TestDeleteObject_NotFound(t *testing.T) {
	f := newAssetServiceFixture(t)

	err := f.svc.DeleteObject(context.Background(), 404)
	assert.True(t, store.IsNotFoundError(err))
	assert.Empty(t, f.storage.removed)
}

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"field.tif":   "image/tiff",
		"field.TIFF":  "image/tiff",
		"scan.las":    "application/vnd.las",
		"preview.png": "image/png",
		"mask.svg":    "image/svg+xml",
		"blob":        "application/octet-stream",
	}
	for name, want := range cases {
		assert.Equal(t, want, detectContentType(name), "name %q", name)
	}
}

func TestReplaceNameExt(t *testing.T) {
	assert.Equal(t, "field.jpg", replaceNameExt("field.tif", ".jpg"))
	assert.Equal(t, "field.svg", replaceNameExt("field.tif", ".svg"))
	assert.Equal(t, "scan.svg", replaceNameExt("scan", ".svg"))
}
