package domain

import (
	"time"
)

// OriginKind records how a stored object came into existence.
type OriginKind string

// Possible origin kind values
const (
	OriginUser      OriginKind = "user"
	OriginSystem    OriginKind = "system"
	OriginThumbnail OriginKind = "thumbnail"
	OriginMaskSVG   OriginKind = "mask_svg"
)

// ObjectType distinguishes the two asset families stored in the bucket.
type ObjectType string

// Possible object type values
const (
	ObjectTypeImage      ObjectType = "image"
	ObjectTypePointcloud ObjectType = "pointcloud"
)

// Object represents a binary asset held in object storage together with the
// metadata row that tracks it. The stored name may differ from OriginName
// when the adapter had to probe for a free name.
type Object struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Folders     string     `json:"folders"`
	OriginName  string     `json:"origin_name"`
	OriginKind  OriginKind `json:"origin_type"`
	Type        ObjectType `json:"type"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	ETag        string     `json:"etag"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Key returns the object's key within the bucket (folders prefix + name).
func (o *Object) Key() string {
	if o.Folders == "" {
		return o.Name
	}
	return o.Folders + "/" + o.Name
}

// Validate checks if the Object has valid data.
func (o *Object) Validate() error {
	if o.Name == "" {
		return ErrValidation
	}
	if !isValidOriginKind(o.OriginKind) {
		return ErrInvalidOriginKind
	}
	switch o.Type {
	case ObjectTypeImage, ObjectTypePointcloud:
		return nil
	default:
		return ErrValidation
	}
}

func isValidOriginKind(kind OriginKind) bool {
	switch kind {
	case OriginUser, OriginSystem, OriginThumbnail, OriginMaskSVG:
		return true
	default:
		return false
	}
}

// Image carries the raster-specific metadata for an image object.
// ThumbnailID points at another Image acting as a reduced-resolution
// preview; the referenced image's object must have origin kind "thumbnail".
type Image struct {
	ID           int64  `json:"id"`
	ObjectID     int64  `json:"object_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitDepth     int    `json:"bit_depth"`
	ChannelCount int    `json:"channel_count"`
	ThumbnailID  *int64 `json:"thumbnail_id,omitempty"`
}

// Pointcloud carries the metadata for a point-cloud object.
type Pointcloud struct {
	ID         int64 `json:"id"`
	ObjectID   int64 `json:"object_id"`
	PointCount int64 `json:"point_count"`
}

// AssetRef is a resolved reference to an image or point cloud, carrying a
// public share link and, for images with a preview, a thumbnail link.
type AssetRef struct {
	ID            int64  `json:"id"`
	ObjectID      int64  `json:"object_id"`
	Link          string `json:"link"`
	ThumbnailLink string `json:"thumbnail_link,omitempty"`
}
