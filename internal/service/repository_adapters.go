package service

import (
	"context"
	"database/sql"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/postgres"
	"github.com/terralens/terralens-api/internal/store"
)

// NewObjectRepositoryAdapter allows a postgres.ObjectStore to be used
// where an ObjectRepository is expected.
func NewObjectRepositoryAdapter(s *postgres.ObjectStore) ObjectRepository {
	return &objectRepositoryAdapter{store: s}
}

type objectRepositoryAdapter struct {
	store *postgres.ObjectStore
}

func (a *objectRepositoryAdapter) CreateObject(ctx context.Context, obj *domain.Object) error {
	return a.store.CreateObject(ctx, obj)
}

func (a *objectRepositoryAdapter) CreateImage(ctx context.Context, img *domain.Image) error {
	return a.store.CreateImage(ctx, img)
}

func (a *objectRepositoryAdapter) CreatePointcloud(ctx context.Context, pc *domain.Pointcloud) error {
	return a.store.CreatePointcloud(ctx, pc)
}

func (a *objectRepositoryAdapter) GetObject(ctx context.Context, id int64) (*domain.Object, error) {
	return a.store.GetObject(ctx, id)
}

func (a *objectRepositoryAdapter) GetImage(ctx context.Context, id int64) (*store.ImageRecord, error) {
	return a.store.GetImage(ctx, id)
}

func (a *objectRepositoryAdapter) GetImageByObjectID(ctx context.Context, objectID int64) (*store.ImageRecord, error) {
	return a.store.GetImageByObjectID(ctx, objectID)
}

func (a *objectRepositoryAdapter) GetPointcloud(ctx context.Context, id int64) (*store.PointcloudRecord, error) {
	return a.store.GetPointcloud(ctx, id)
}

func (a *objectRepositoryAdapter) SetThumbnail(ctx context.Context, objectID, thumbnailImageID int64) error {
	return a.store.SetThumbnail(ctx, objectID, thumbnailImageID)
}

func (a *objectRepositoryAdapter) DeleteObject(ctx context.Context, id int64) error {
	return a.store.DeleteObject(ctx, id)
}

func (a *objectRepositoryAdapter) ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.ImageRecord, error) {
	return a.store.ListImages(ctx, origins, limit, offset)
}

func (a *objectRepositoryAdapter) ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.PointcloudRecord, error) {
	return a.store.ListPointclouds(ctx, origins, limit, offset)
}

func (a *objectRepositoryAdapter) WithTx(tx *sql.Tx) ObjectRepository {
	return &objectRepositoryAdapter{store: a.store.WithTx(tx)}
}

// NewProjectRepositoryAdapter allows a postgres.ProjectStore to be used
// where a ProjectRepository is expected.
func NewProjectRepositoryAdapter(s *postgres.ProjectStore) ProjectRepository {
	return &projectRepositoryAdapter{store: s}
}

type projectRepositoryAdapter struct {
	store *postgres.ProjectStore
}

func (a *projectRepositoryAdapter) Create(ctx context.Context, p *domain.Project) error {
	return a.store.Create(ctx, p)
}

func (a *projectRepositoryAdapter) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	return a.store.GetByID(ctx, id)
}

func (a *projectRepositoryAdapter) List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]domain.Project, error) {
	return a.store.List(ctx, kinds, statuses, limit, offset)
}

func (a *projectRepositoryAdapter) ListUnfinished(ctx context.Context) ([]domain.Project, error) {
	return a.store.ListUnfinished(ctx)
}

func (a *projectRepositoryAdapter) UpdateStatus(ctx context.Context, id int64, status domain.ProjectStatus) error {
	return a.store.UpdateStatus(ctx, id, status)
}

func (a *projectRepositoryAdapter) UpdateName(ctx context.Context, id int64, name string) error {
	return a.store.UpdateName(ctx, id, name)
}

func (a *projectRepositoryAdapter) UpdateCoverImage(ctx context.Context, id, coverImageID int64) error {
	return a.store.UpdateCoverImage(ctx, id, coverImageID)
}

func (a *projectRepositoryAdapter) Delete(ctx context.Context, id int64) error {
	return a.store.Delete(ctx, id)
}

func (a *projectRepositoryAdapter) WithTx(tx *sql.Tx) ProjectRepository {
	return &projectRepositoryAdapter{store: a.store.WithTx(tx)}
}

// NewTaskRepositoryAdapter allows a postgres.TaskStore to be used where a
// TaskRepository is expected.
func NewTaskRepositoryAdapter(s *postgres.TaskStore) TaskRepository {
	return &taskRepositoryAdapter{store: s}
}

type taskRepositoryAdapter struct {
	store *postgres.TaskStore
}

func (a *taskRepositoryAdapter) CountByProject(ctx context.Context, projectID int64) (int64, error) {
	return a.store.CountByProject(ctx, projectID)
}

func (a *taskRepositoryAdapter) Delete(ctx context.Context, kind domain.TaskKind, id int64) error {
	return a.store.Delete(ctx, kind, id)
}

func (a *taskRepositoryAdapter) DeleteByProject(ctx context.Context, kind domain.TaskKind, projectID int64) (int64, error) {
	return a.store.DeleteByProject(ctx, kind, projectID)
}

func (a *taskRepositoryAdapter) CreateDetection2D(ctx context.Context, t *domain.Detection2DTask) error {
	return a.store.CreateDetection2D(ctx, t)
}

func (a *taskRepositoryAdapter) GetDetection2D(ctx context.Context, id int64) (*domain.Detection2DTask, error) {
	return a.store.GetDetection2D(ctx, id)
}

func (a *taskRepositoryAdapter) GetDetection2DByProject(ctx context.Context, projectID int64) (*domain.Detection2DTask, error) {
	return a.store.GetDetection2DByProject(ctx, projectID)
}

func (a *taskRepositoryAdapter) CompleteDetection2D(ctx context.Context, id, plotImageID int64) error {
	return a.store.CompleteDetection2D(ctx, id, plotImageID)
}

func (a *taskRepositoryAdapter) CreateSegmentation2D(ctx context.Context, t *domain.Segmentation2DTask) error {
	return a.store.CreateSegmentation2D(ctx, t)
}

func (a *taskRepositoryAdapter) GetSegmentation2D(ctx context.Context, id int64) (*domain.Segmentation2DTask, error) {
	return a.store.GetSegmentation2D(ctx, id)
}

func (a *taskRepositoryAdapter) GetSegmentation2DByProject(ctx context.Context, projectID int64) (*domain.Segmentation2DTask, error) {
	return a.store.GetSegmentation2DByProject(ctx, projectID)
}

func (a *taskRepositoryAdapter) CompleteSegmentation2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	return a.store.CompleteSegmentation2D(ctx, id, maskImageID, maskSVGID)
}

func (a *taskRepositoryAdapter) CreateChangeDetection2D(ctx context.Context, t *domain.ChangeDetection2DTask) error {
	return a.store.CreateChangeDetection2D(ctx, t)
}

func (a *taskRepositoryAdapter) GetChangeDetection2D(ctx context.Context, id int64) (*domain.ChangeDetection2DTask, error) {
	return a.store.GetChangeDetection2D(ctx, id)
}

func (a *taskRepositoryAdapter) GetChangeDetection2DByProject(ctx context.Context, projectID int64) (*domain.ChangeDetection2DTask, error) {
	return a.store.GetChangeDetection2DByProject(ctx, projectID)
}

func (a *taskRepositoryAdapter) CompleteChangeDetection2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	return a.store.CompleteChangeDetection2D(ctx, id, maskImageID, maskSVGID)
}

func (a *taskRepositoryAdapter) CreateSegmentation3D(ctx context.Context, t *domain.Segmentation3DTask) error {
	return a.store.CreateSegmentation3D(ctx, t)
}

func (a *taskRepositoryAdapter) GetSegmentation3D(ctx context.Context, id int64) (*domain.Segmentation3DTask, error) {
	return a.store.GetSegmentation3D(ctx, id)
}

func (a *taskRepositoryAdapter) GetSegmentation3DByProject(ctx context.Context, projectID int64) (*domain.Segmentation3DTask, error) {
	return a.store.GetSegmentation3DByProject(ctx, projectID)
}

func (a *taskRepositoryAdapter) CompleteSegmentation3D(ctx context.Context, id, resultPointcloudID int64) error {
	return a.store.CompleteSegmentation3D(ctx, id, resultPointcloudID)
}

func (a *taskRepositoryAdapter) WithTx(tx *sql.Tx) TaskRepository {
	return &taskRepositoryAdapter{store: a.store.WithTx(tx)}
}
