package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/terralens/terralens-api/internal/api/shared"
	"github.com/terralens/terralens-api/internal/assets"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
)

// maxUploadBytes bounds the in-memory part of a multipart upload; larger
// bodies spill to disk.
const maxUploadBytes = 32 << 20

// ObjectHandler handles asset upload, lookup and delete requests.
type ObjectHandler struct {
	assetService service.AssetService
}

// NewObjectHandler creates a new ObjectHandler.
func NewObjectHandler(assetService service.AssetService) *ObjectHandler {
	return &ObjectHandler{assetService: assetService}
}

// UploadImage handles POST /object/image multipart requests. The file part
// is staged to a temp file so derivation can reread it.
func (h *ObjectHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	name, contentType, path, cleanup, ok := h.stageUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	saved, err := h.assetService.SaveImage(r.Context(), service.SaveImageInput{
		Name:        name,
		Path:        path,
		ContentType: contentType,
		Origin:      domain.OriginUser,
	})
	if err != nil {
		respondAssetError(w, r, err, "Failed to save image")
		return
	}

	shared.RespondWithData(w, r, http.StatusCreated, saved)
}

// UploadPointcloud handles POST /object/pointcloud multipart requests.
func (h *ObjectHandler) UploadPointcloud(w http.ResponseWriter, r *http.Request) {
	name, contentType, path, cleanup, ok := h.stageUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	saved, err := h.assetService.SavePointcloud(r.Context(), service.SavePointcloudInput{
		Name:        name,
		Path:        path,
		ContentType: contentType,
		Origin:      domain.OriginUser,
	})
	if err != nil {
		respondAssetError(w, r, err, "Failed to save point cloud")
		return
	}

	shared.RespondWithData(w, r, http.StatusCreated, saved)
}

// GetImage handles GET /object/image/{id} requests.
func (h *ObjectHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.assetService.GetImage(r.Context(), id)
	if err != nil {
		respondAssetError(w, r, err, "Failed to get image")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, view)
}

// GetPointcloud handles GET /object/pointcloud/{id} requests.
func (h *ObjectHandler) GetPointcloud(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.assetService.GetPointcloud(r.Context(), id)
	if err != nil {
		respondAssetError(w, r, err, "Failed to get point cloud")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, view)
}

// ListImages handles GET /object/image requests with an optional origin
// filter.
func (h *ObjectHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	origins, ok := originFilter(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	views, err := h.assetService.ListImages(r.Context(), origins, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list images", err)
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, views)
}

// ListPointclouds handles GET /object/pointcloud requests.
func (h *ObjectHandler) ListPointclouds(w http.ResponseWriter, r *http.Request) {
	origins, ok := originFilter(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	views, err := h.assetService.ListPointclouds(r.Context(), origins, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list point clouds", err)
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, views)
}

// DeleteObject handles DELETE /object/{id} requests. The id addresses the
// object row, not the image or point-cloud row.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.assetService.DeleteObject(r.Context(), id); err != nil {
		respondAssetError(w, r, err, "Failed to delete object")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, nil)
}

// stageUpload copies the multipart file part to a temp file and returns its
// original name, declared content type and the staged path.
func (h *ObjectHandler) stageUpload(w http.ResponseWriter, r *http.Request) (name, contentType, path string, cleanup func(), ok bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid multipart request")
		return "", "", "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing file field")
		return "", "", "", nil, false
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to stage upload", err)
		return "", "", "", nil, false
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to stage upload", err)
		return "", "", "", nil, false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to stage upload", err)
		return "", "", "", nil, false
	}

	cleanup = func() { os.Remove(tmp.Name()) }
	return header.Filename, header.Header.Get("Content-Type"), tmp.Name(), cleanup, true
}

func originFilter(w http.ResponseWriter, r *http.Request) ([]domain.OriginKind, bool) {
	raw := r.URL.Query().Get("origin")
	if raw == "" {
		return nil, true
	}
	switch kind := domain.OriginKind(raw); kind {
	case domain.OriginUser, domain.OriginSystem, domain.OriginThumbnail, domain.OriginMaskSVG:
		return []domain.OriginKind{kind}, true
	default:
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown origin")
		return nil, false
	}
}

func respondAssetError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, assets.ErrUnsupportedFormat):
		shared.RespondWithError(w, r, http.StatusUnsupportedMediaType, "Unsupported file format")
	case errors.Is(err, assets.ErrAssetRead):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unreadable asset file")
	default:
		respondTaskError(w, r, err, fallback)
	}
}
