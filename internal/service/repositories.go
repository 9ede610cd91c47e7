package service

import (
	"context"
	"database/sql"
	"io"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/objectstore"
	"github.com/terralens/terralens-api/internal/store"
)

// ObjectRepository defines the asset metadata operations the services need.
type ObjectRepository interface {
	CreateObject(ctx context.Context, obj *domain.Object) error
	CreateImage(ctx context.Context, img *domain.Image) error
	CreatePointcloud(ctx context.Context, pc *domain.Pointcloud) error

	GetObject(ctx context.Context, id int64) (*domain.Object, error)
	GetImage(ctx context.Context, id int64) (*store.ImageRecord, error)
	GetImageByObjectID(ctx context.Context, objectID int64) (*store.ImageRecord, error)
	GetPointcloud(ctx context.Context, id int64) (*store.PointcloudRecord, error)

	SetThumbnail(ctx context.Context, objectID, thumbnailImageID int64) error
	DeleteObject(ctx context.Context, id int64) error

	ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.ImageRecord, error)
	ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.PointcloudRecord, error)

	// WithTx returns a repository instance bound to the transaction.
	WithTx(tx *sql.Tx) ObjectRepository
}

// ProjectRepository defines the project operations the services need.
type ProjectRepository interface {
	Create(ctx context.Context, p *domain.Project) error
	GetByID(ctx context.Context, id int64) (*domain.Project, error)
	List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]domain.Project, error)
	ListUnfinished(ctx context.Context) ([]domain.Project, error)
	UpdateStatus(ctx context.Context, id int64, status domain.ProjectStatus) error
	UpdateName(ctx context.Context, id int64, name string) error
	UpdateCoverImage(ctx context.Context, id, coverImageID int64) error
	Delete(ctx context.Context, id int64) error

	// WithTx returns a repository instance bound to the transaction.
	WithTx(tx *sql.Tx) ProjectRepository
}

// TaskRepository defines the per-kind task table operations.
type TaskRepository interface {
	CountByProject(ctx context.Context, projectID int64) (int64, error)
	Delete(ctx context.Context, kind domain.TaskKind, id int64) error
	DeleteByProject(ctx context.Context, kind domain.TaskKind, projectID int64) (int64, error)

	CreateDetection2D(ctx context.Context, t *domain.Detection2DTask) error
	GetDetection2D(ctx context.Context, id int64) (*domain.Detection2DTask, error)
	GetDetection2DByProject(ctx context.Context, projectID int64) (*domain.Detection2DTask, error)
	CompleteDetection2D(ctx context.Context, id, plotImageID int64) error

	CreateSegmentation2D(ctx context.Context, t *domain.Segmentation2DTask) error
	GetSegmentation2D(ctx context.Context, id int64) (*domain.Segmentation2DTask, error)
	GetSegmentation2DByProject(ctx context.Context, projectID int64) (*domain.Segmentation2DTask, error)
	CompleteSegmentation2D(ctx context.Context, id, maskImageID, maskSVGID int64) error

	CreateChangeDetection2D(ctx context.Context, t *domain.ChangeDetection2DTask) error
	GetChangeDetection2D(ctx context.Context, id int64) (*domain.ChangeDetection2DTask, error)
	GetChangeDetection2DByProject(ctx context.Context, projectID int64) (*domain.ChangeDetection2DTask, error)
	CompleteChangeDetection2D(ctx context.Context, id, maskImageID, maskSVGID int64) error

	CreateSegmentation3D(ctx context.Context, t *domain.Segmentation3DTask) error
	GetSegmentation3D(ctx context.Context, id int64) (*domain.Segmentation3DTask, error)
	GetSegmentation3DByProject(ctx context.Context, projectID int64) (*domain.Segmentation3DTask, error)
	CompleteSegmentation3D(ctx context.Context, id, resultPointcloudID int64) error

	// WithTx returns a repository instance bound to the transaction.
	WithTx(tx *sql.Tx) TaskRepository
}

// Storage defines the object storage operations the services need.
type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (objectstore.PutResult, error)
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	ShareLink(key string) string
}

// TaskQueue defines the producer side of the task queue.
type TaskQueue interface {
	Push(ctx context.Context, desc domain.Descriptor) error
}
