package store

import "github.com/terralens/terralens-api/internal/domain"

// ImageRecord is the read model for an image joined with its owning object
// row. Listing and lookup queries return it so callers can build share
// links without a second round trip.
type ImageRecord struct {
	Image  domain.Image
	Object domain.Object
}

// PointcloudRecord is the read model for a point cloud joined with its
// owning object row.
type PointcloudRecord struct {
	Pointcloud domain.Pointcloud
	Object     domain.Object
}
