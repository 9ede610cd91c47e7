package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/objectstore"
	"github.com/terralens/terralens-api/internal/store"
)

// fakeProjectRepo is an in-memory ProjectRepository.
type fakeProjectRepo struct {
	projects   map[int64]*domain.Project
	nextID     int64
	createErr  error
	statuses   map[int64]domain.ProjectStatus
	deleted    []int64
	unfinished []domain.Project
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{
		projects: make(map[int64]*domain.Project),
		statuses: make(map[int64]domain.ProjectStatus),
		nextID:   100,
	}
}

func (f *fakeProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w (id %d)", store.ErrProjectNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjectRepo) List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]domain.Project, error) {
	var out []domain.Project
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProjectRepo) ListUnfinished(ctx context.Context) ([]domain.Project, error) {
	return f.unfinished, nil
}

func (f *fakeProjectRepo) UpdateStatus(ctx context.Context, id int64, status domain.ProjectStatus) error {
	if _, ok := f.projects[id]; !ok {
		return store.ErrProjectNotFound
	}
	f.statuses[id] = status
	f.projects[id].Status = status
	return nil
}

func (f *fakeProjectRepo) UpdateName(ctx context.Context, id int64, name string) error {
	if _, ok := f.projects[id]; !ok {
		return store.ErrProjectNotFound
	}
	f.projects[id].Name = name
	return nil
}

func (f *fakeProjectRepo) UpdateCoverImage(ctx context.Context, id, coverImageID int64) error {
	if _, ok := f.projects[id]; !ok {
		return store.ErrProjectNotFound
	}
	f.projects[id].CoverImageID = &coverImageID
	return nil
}

func (f *fakeProjectRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := f.projects[id]; !ok {
		return store.ErrProjectNotFound
	}
	delete(f.projects, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProjectRepo) WithTx(tx *sql.Tx) ProjectRepository { return f }

// fakeTaskRepo is an in-memory TaskRepository covering all four kind tables.
type fakeTaskRepo struct {
	nextID    int64
	createErr error
	count     int64

	detection2D   map[int64]*domain.Detection2DTask
	segmentation  map[int64]*domain.Segmentation2DTask
	change        map[int64]*domain.ChangeDetection2DTask
	segmentation3 map[int64]*domain.Segmentation3DTask

	deleted []domain.TaskKind
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		nextID:        200,
		detection2D:   make(map[int64]*domain.Detection2DTask),
		segmentation:  make(map[int64]*domain.Segmentation2DTask),
		change:        make(map[int64]*domain.ChangeDetection2DTask),
		segmentation3: make(map[int64]*domain.Segmentation3DTask),
	}
}

func (f *fakeTaskRepo) CountByProject(ctx context.Context, projectID int64) (int64, error) {
	return f.count, nil
}

func (f *fakeTaskRepo) Delete(ctx context.Context, kind domain.TaskKind, id int64) error {
	f.deleted = append(f.deleted, kind)
	switch kind {
	case domain.KindDetection2D:
		delete(f.detection2D, id)
	case domain.KindSegmentation2D:
		delete(f.segmentation, id)
	case domain.KindChangeDetection2D:
		delete(f.change, id)
	case domain.KindSegmentation3D:
		delete(f.segmentation3, id)
	}
	return nil
}

func (f *fakeTaskRepo) DeleteByProject(ctx context.Context, kind domain.TaskKind, projectID int64) (int64, error) {
	var n int64
	switch kind {
	case domain.KindDetection2D:
		for id, t := range f.detection2D {
			if t.ProjectID == projectID {
				delete(f.detection2D, id)
				n++
			}
		}
	case domain.KindSegmentation2D:
		for id, t := range f.segmentation {
			if t.ProjectID == projectID {
				delete(f.segmentation, id)
				n++
			}
		}
	case domain.KindChangeDetection2D:
		for id, t := range f.change {
			if t.ProjectID == projectID {
				delete(f.change, id)
				n++
			}
		}
	case domain.KindSegmentation3D:
		for id, t := range f.segmentation3 {
			if t.ProjectID == projectID {
				delete(f.segmentation3, id)
				n++
			}
		}
	}
	if n > 0 {
		f.deleted = append(f.deleted, kind)
	}
	return n, nil
}

func (f *fakeTaskRepo) CreateDetection2D(ctx context.Context, t *domain.Detection2DTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	t.ID = f.nextID
	f.detection2D[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) GetDetection2D(ctx context.Context, id int64) (*domain.Detection2DTask, error) {
	t, ok := f.detection2D[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) GetDetection2DByProject(ctx context.Context, projectID int64) (*domain.Detection2DTask, error) {
	for _, t := range f.detection2D {
		if t.ProjectID == projectID {
			return t, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (f *fakeTaskRepo) CompleteDetection2D(ctx context.Context, id, plotImageID int64) error {
	t, ok := f.detection2D[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.PlotImageID = &plotImageID
	return nil
}

func (f *fakeTaskRepo) CreateSegmentation2D(ctx context.Context, t *domain.Segmentation2DTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	t.ID = f.nextID
	f.segmentation[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) GetSegmentation2D(ctx context.Context, id int64) (*domain.Segmentation2DTask, error) {
	t, ok := f.segmentation[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) GetSegmentation2DByProject(ctx context.Context, projectID int64) (*domain.Segmentation2DTask, error) {
	for _, t := range f.segmentation {
		if t.ProjectID == projectID {
			return t, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (f *fakeTaskRepo) CompleteSegmentation2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	t, ok := f.segmentation[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.MaskImageID = &maskImageID
	t.MaskSVGID = &maskSVGID
	return nil
}

func (f *fakeTaskRepo) CreateChangeDetection2D(ctx context.Context, t *domain.ChangeDetection2DTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	t.ID = f.nextID
	f.change[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) GetChangeDetection2D(ctx context.Context, id int64) (*domain.ChangeDetection2DTask, error) {
	t, ok := f.change[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) GetChangeDetection2DByProject(ctx context.Context, projectID int64) (*domain.ChangeDetection2DTask, error) {
	for _, t := range f.change {
		if t.ProjectID == projectID {
			return t, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (f *fakeTaskRepo) CompleteChangeDetection2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	t, ok := f.change[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.MaskImageID = &maskImageID
	t.MaskSVGID = &maskSVGID
	return nil
}

func (f *fakeTaskRepo) CreateSegmentation3D(ctx context.Context, t *domain.Segmentation3DTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	t.ID = f.nextID
	f.segmentation3[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) GetSegmentation3D(ctx context.Context, id int64) (*domain.Segmentation3DTask, error) {
	t, ok := f.segmentation3[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) GetSegmentation3DByProject(ctx context.Context, projectID int64) (*domain.Segmentation3DTask, error) {
	for _, t := range f.segmentation3 {
		if t.ProjectID == projectID {
			return t, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (f *fakeTaskRepo) CompleteSegmentation3D(ctx context.Context, id, resultPointcloudID int64) error {
	t, ok := f.segmentation3[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.ResultPointcloudID = &resultPointcloudID
	return nil
}

func (f *fakeTaskRepo) WithTx(tx *sql.Tx) TaskRepository { return f }

// fakeObjectRepo serves image and pointcloud records from maps and records
// writes.
type fakeObjectRepo struct {
	nextID      int64
	objects     map[int64]*domain.Object
	images      map[int64]*store.ImageRecord
	pointclouds map[int64]*store.PointcloudRecord

	createdImages      []*domain.Image
	createdPointclouds []*domain.Pointcloud
	deletedObjects     []int64
	thumbnails         map[int64]int64

	createObjectErr error
}

func newFakeObjectRepo() *fakeObjectRepo {
	return &fakeObjectRepo{
		nextID:      300,
		objects:     make(map[int64]*domain.Object),
		images:      make(map[int64]*store.ImageRecord),
		pointclouds: make(map[int64]*store.PointcloudRecord),
		thumbnails:  make(map[int64]int64),
	}
}

func (f *fakeObjectRepo) CreateObject(ctx context.Context, obj *domain.Object) error {
	if f.createObjectErr != nil {
		return f.createObjectErr
	}
	f.nextID++
	obj.ID = f.nextID
	cp := *obj
	f.objects[obj.ID] = &cp
	return nil
}

func (f *fakeObjectRepo) CreateImage(ctx context.Context, img *domain.Image) error {
	f.nextID++
	img.ID = f.nextID
	f.createdImages = append(f.createdImages, img)
	if obj, ok := f.objects[img.ObjectID]; ok {
		f.images[img.ID] = &store.ImageRecord{Image: *img, Object: *obj}
	}
	return nil
}

func (f *fakeObjectRepo) CreatePointcloud(ctx context.Context, pc *domain.Pointcloud) error {
	f.nextID++
	pc.ID = f.nextID
	f.createdPointclouds = append(f.createdPointclouds, pc)
	if obj, ok := f.objects[pc.ObjectID]; ok {
		f.pointclouds[pc.ID] = &store.PointcloudRecord{Pointcloud: *pc, Object: *obj}
	}
	return nil
}

func (f *fakeObjectRepo) GetObject(ctx context.Context, id int64) (*domain.Object, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, store.ErrObjectNotFound
	}
	return obj, nil
}

func (f *fakeObjectRepo) GetImage(ctx context.Context, id int64) (*store.ImageRecord, error) {
	rec, ok := f.images[id]
	if !ok {
		return nil, store.ErrImageNotFound
	}
	return rec, nil
}

func (f *fakeObjectRepo) GetImageByObjectID(ctx context.Context, objectID int64) (*store.ImageRecord, error) {
	for _, rec := range f.images {
		if rec.Image.ObjectID == objectID {
			return rec, nil
		}
	}
	return nil, store.ErrImageNotFound
}

func (f *fakeObjectRepo) GetPointcloud(ctx context.Context, id int64) (*store.PointcloudRecord, error) {
	rec, ok := f.pointclouds[id]
	if !ok {
		return nil, store.ErrPointcloudNotFound
	}
	return rec, nil
}

func (f *fakeObjectRepo) SetThumbnail(ctx context.Context, objectID, thumbnailImageID int64) error {
	f.thumbnails[objectID] = thumbnailImageID
	return nil
}

func (f *fakeObjectRepo) DeleteObject(ctx context.Context, id int64) error {
	if _, ok := f.objects[id]; !ok {
		return store.ErrObjectNotFound
	}
	delete(f.objects, id)
	f.deletedObjects = append(f.deletedObjects, id)
	return nil
}

func (f *fakeObjectRepo) ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.ImageRecord, error) {
	var out []store.ImageRecord
	for _, rec := range f.images {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeObjectRepo) ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.PointcloudRecord, error) {
	var out []store.PointcloudRecord
	for _, rec := range f.pointclouds {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeObjectRepo) WithTx(tx *sql.Tx) ObjectRepository { return f }

// fakeAssetService resolves references from a preset map; the save methods
// are never reached by the task service tests.
type fakeAssetService struct {
	refs           map[int64]domain.AssetRef
	pointcloudRefs map[int64]domain.AssetRef
	deletedObjects []int64
}

func newFakeAssetService() *fakeAssetService {
	return &fakeAssetService{
		refs:           make(map[int64]domain.AssetRef),
		pointcloudRefs: make(map[int64]domain.AssetRef),
	}
}

func (f *fakeAssetService) SaveImage(ctx context.Context, in SaveImageInput) (*SavedImage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAssetService) SavePointcloud(ctx context.Context, in SavePointcloudInput) (*store.PointcloudRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAssetService) GetImage(ctx context.Context, id int64) (*ImageView, error) {
	return nil, store.ErrImageNotFound
}

func (f *fakeAssetService) GetPointcloud(ctx context.Context, id int64) (*PointcloudView, error) {
	return nil, store.ErrPointcloudNotFound
}

func (f *fakeAssetService) ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]ImageView, error) {
	return nil, nil
}

func (f *fakeAssetService) ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]PointcloudView, error) {
	return nil, nil
}

func (f *fakeAssetService) ImageRef(ctx context.Context, imageID int64) (domain.AssetRef, error) {
	ref, ok := f.refs[imageID]
	if !ok {
		return domain.AssetRef{}, store.ErrImageNotFound
	}
	return ref, nil
}

func (f *fakeAssetService) PointcloudRef(ctx context.Context, pointcloudID int64) (domain.AssetRef, error) {
	ref, ok := f.pointcloudRefs[pointcloudID]
	if !ok {
		return domain.AssetRef{}, store.ErrPointcloudNotFound
	}
	return ref, nil
}

func (f *fakeAssetService) DeleteObject(ctx context.Context, objectID int64) error {
	f.deletedObjects = append(f.deletedObjects, objectID)
	return nil
}

// fakeStorage serves share links and canned object bytes, and records
// removals and fetches; Put is unused by the service tests that rely on
// it.
type fakeStorage struct {
	removed []string
	fetched []string
	content map[string][]byte
}

func (f *fakeStorage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (objectstore.PutResult, error) {
	return objectstore.PutResult{Key: key, Size: size}, nil
}

func (f *fakeStorage) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	f.fetched = append(f.fetched, key)
	data, ok := f.content[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Remove(ctx context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeStorage) ShareLink(key string) string {
	return "https://cdn.example.com/geodata/" + key
}

// fakePreviewer serves canned preview links and records lookups.
type fakePreviewer struct {
	links      map[int64]string
	linkErr    error
	calls      []int64
	classified []bool
}

func (f *fakePreviewer) Link(ctx context.Context, obj *domain.Object, classified bool) (string, error) {
	f.calls = append(f.calls, obj.ID)
	f.classified = append(f.classified, classified)
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return f.links[obj.ID], nil
}

// fakeQueue records pushed descriptors.
type fakeQueue struct {
	pushed  []domain.Descriptor
	pushErr error
}

func (f *fakeQueue) Push(ctx context.Context, desc domain.Descriptor) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, desc)
	return nil
}
