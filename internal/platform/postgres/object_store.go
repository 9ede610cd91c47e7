package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/logger"
	"github.com/terralens/terralens-api/internal/store"
)

// ObjectStore persists object, image and pointcloud metadata rows.
type ObjectStore struct {
	db store.DBTX
}

// NewObjectStore creates a new ObjectStore backed by the given connection
// or transaction.
func NewObjectStore(db store.DBTX) *ObjectStore {
	return &ObjectStore{db: db}
}

// WithTx returns a new ObjectStore instance that uses the provided
// transaction. The transaction is created and managed by the caller.
func (s *ObjectStore) WithTx(tx *sql.Tx) *ObjectStore {
	return &ObjectStore{db: tx}
}

// CreateObject inserts the object metadata row and fills in its ID.
func (s *ObjectStore) CreateObject(ctx context.Context, obj *domain.Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO objects (name, folders, origin_name, origin_type, type, content_type, size, etag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now().UTC()
	obj.CreatedAt = now
	obj.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query,
		obj.Name,
		obj.Folders,
		obj.OriginName,
		obj.OriginKind,
		obj.Type,
		obj.ContentType,
		obj.Size,
		obj.ETag,
		obj.CreatedAt,
		obj.UpdatedAt,
	).Scan(&obj.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert object",
			"name", obj.Name,
			"error", err)
		return MapError(err)
	}

	return nil
}

// CreateImage inserts the image metadata row and fills in its ID.
func (s *ObjectStore) CreateImage(ctx context.Context, img *domain.Image) error {
	query := `
		INSERT INTO images (object_id, width, height, bit_depth, channel_count, thumbnail_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		img.ObjectID,
		img.Width,
		img.Height,
		img.BitDepth,
		img.ChannelCount,
		img.ThumbnailID,
	).Scan(&img.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert image",
			"object_id", img.ObjectID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// CreatePointcloud inserts the pointcloud metadata row and fills in its ID.
func (s *ObjectStore) CreatePointcloud(ctx context.Context, pc *domain.Pointcloud) error {
	query := `
		INSERT INTO pointclouds (object_id, point_count)
		VALUES ($1, $2)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query, pc.ObjectID, pc.PointCount).Scan(&pc.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert pointcloud",
			"object_id", pc.ObjectID,
			"error", err)
		return MapError(err)
	}

	return nil
}

const objectColumns = "id, name, folders, origin_name, origin_type, type, content_type, size, etag, created_at, updated_at"

func scanObject(row interface{ Scan(dest ...any) error }, obj *domain.Object) error {
	return row.Scan(
		&obj.ID,
		&obj.Name,
		&obj.Folders,
		&obj.OriginName,
		&obj.OriginKind,
		&obj.Type,
		&obj.ContentType,
		&obj.Size,
		&obj.ETag,
		&obj.CreatedAt,
		&obj.UpdatedAt,
	)
}

// GetObject retrieves one object row by ID.
func (s *ObjectStore) GetObject(ctx context.Context, id int64) (*domain.Object, error) {
	query := fmt.Sprintf("SELECT %s FROM objects WHERE id = $1", objectColumns)

	var obj domain.Object
	if err := scanObject(s.db.QueryRowContext(ctx, query, id), &obj); err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return &obj, nil
}

const imageJoinQuery = `
	SELECT i.id, i.object_id, i.width, i.height, i.bit_depth, i.channel_count, i.thumbnail_id,
	       o.id, o.name, o.folders, o.origin_name, o.origin_type, o.type, o.content_type, o.size, o.etag, o.created_at, o.updated_at
	FROM images i
	JOIN objects o ON o.id = i.object_id
`

func scanImageRecord(row interface{ Scan(dest ...any) error }) (*store.ImageRecord, error) {
	var rec store.ImageRecord
	err := row.Scan(
		&rec.Image.ID,
		&rec.Image.ObjectID,
		&rec.Image.Width,
		&rec.Image.Height,
		&rec.Image.BitDepth,
		&rec.Image.ChannelCount,
		&rec.Image.ThumbnailID,
		&rec.Object.ID,
		&rec.Object.Name,
		&rec.Object.Folders,
		&rec.Object.OriginName,
		&rec.Object.OriginKind,
		&rec.Object.Type,
		&rec.Object.ContentType,
		&rec.Object.Size,
		&rec.Object.ETag,
		&rec.Object.CreatedAt,
		&rec.Object.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetImage retrieves one image (joined with its object) by image ID.
func (s *ObjectStore) GetImage(ctx context.Context, id int64) (*store.ImageRecord, error) {
	rec, err := scanImageRecord(s.db.QueryRowContext(ctx, imageJoinQuery+" WHERE i.id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("%w (image id %d)", MapError(err), id)
	}
	return rec, nil
}

// GetImageByObjectID retrieves one image (joined with its object) by the
// owning object's ID.
func (s *ObjectStore) GetImageByObjectID(ctx context.Context, objectID int64) (*store.ImageRecord, error) {
	rec, err := scanImageRecord(s.db.QueryRowContext(ctx, imageJoinQuery+" WHERE i.object_id = $1", objectID))
	if err != nil {
		return nil, fmt.Errorf("%w (object id %d)", MapError(err), objectID)
	}
	return rec, nil
}

const pointcloudJoinQuery = `
	SELECT p.id, p.object_id, p.point_count,
	       o.id, o.name, o.folders, o.origin_name, o.origin_type, o.type, o.content_type, o.size, o.etag, o.created_at, o.updated_at
	FROM pointclouds p
	JOIN objects o ON o.id = p.object_id
`

func scanPointcloudRecord(row interface{ Scan(dest ...any) error }) (*store.PointcloudRecord, error) {
	var rec store.PointcloudRecord
	err := row.Scan(
		&rec.Pointcloud.ID,
		&rec.Pointcloud.ObjectID,
		&rec.Pointcloud.PointCount,
		&rec.Object.ID,
		&rec.Object.Name,
		&rec.Object.Folders,
		&rec.Object.OriginName,
		&rec.Object.OriginKind,
		&rec.Object.Type,
		&rec.Object.ContentType,
		&rec.Object.Size,
		&rec.Object.ETag,
		&rec.Object.CreatedAt,
		&rec.Object.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetPointcloud retrieves one pointcloud (joined with its object) by ID.
func (s *ObjectStore) GetPointcloud(ctx context.Context, id int64) (*store.PointcloudRecord, error) {
	rec, err := scanPointcloudRecord(s.db.QueryRowContext(ctx, pointcloudJoinQuery+" WHERE p.id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("%w (pointcloud id %d)", MapError(err), id)
	}
	return rec, nil
}

// SetThumbnail links the image owned by objectID to the thumbnail image.
func (s *ObjectStore) SetThumbnail(ctx context.Context, objectID, thumbnailImageID int64) error {
	query := `UPDATE images SET thumbnail_id = $1 WHERE object_id = $2`

	result, err := s.db.ExecContext(ctx, query, thumbnailImageID, objectID)
	if err != nil {
		return MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrImageNotFound
	}
	return nil
}

// DeleteObject removes the object row; dependent image/pointcloud rows go
// with it via the schema's cascade. The storage-side object is the caller's
// responsibility.
func (s *ObjectStore) DeleteObject(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrObjectNotFound
	}
	return nil
}

// ListImages returns images whose objects match the given origin kinds,
// newest first. An empty filter matches every origin.
func (s *ObjectStore) ListImages(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.ImageRecord, error) {
	query := imageJoinQuery + fmt.Sprintf(
		" WHERE o.origin_type = ANY($1) ORDER BY o.created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, originsParam(effectiveOrigins(origins)))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var records []store.ImageRecord
	for rows.Next() {
		rec, err := scanImageRecord(rows)
		if err != nil {
			return nil, MapError(err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return records, nil
}

// ListPointclouds returns point clouds whose objects match the given origin
// kinds, newest first. An empty filter matches every origin.
func (s *ObjectStore) ListPointclouds(ctx context.Context, origins []domain.OriginKind, limit, offset int) ([]store.PointcloudRecord, error) {
	query := pointcloudJoinQuery + fmt.Sprintf(
		" WHERE o.origin_type = ANY($1) ORDER BY o.created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, originsParam(effectiveOrigins(origins)))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var records []store.PointcloudRecord
	for rows.Next() {
		rec, err := scanPointcloudRecord(rows)
		if err != nil {
			return nil, MapError(err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return records, nil
}

// effectiveOrigins widens an empty filter to every origin kind.
func effectiveOrigins(origins []domain.OriginKind) []domain.OriginKind {
	if len(origins) > 0 {
		return origins
	}
	return []domain.OriginKind{domain.OriginUser, domain.OriginSystem, domain.OriginThumbnail, domain.OriginMaskSVG}
}

// originsParam renders origin kinds as a Postgres array literal for ANY().
func originsParam(origins []domain.OriginKind) string {
	strs := make([]string, len(origins))
	for i, o := range origins {
		strs[i] = string(o)
	}
	return "{" + strings.Join(strs, ",") + "}"
}
