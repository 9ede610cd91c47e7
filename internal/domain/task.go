package domain

import (
	"encoding/json"
	"time"
)

// TaskKind identifies one of the supported analysis kinds. The set is
// closed: every descriptor popped from the queue must carry one of these
// values, and the dispatcher's handler table is keyed by them.
type TaskKind string

// Supported analysis kinds. The string values double as the wire values in
// queue descriptors and the "type" column on projects.
const (
	KindDetection2D       TaskKind = "2d_detection"
	KindSegmentation2D    TaskKind = "2d_segmentation"
	KindChangeDetection2D TaskKind = "2d_change_detection"
	KindSegmentation3D    TaskKind = "3d_segmentation"
)

// AllTaskKinds lists every supported kind, in a fixed order. Cascading
// deletes and the requeue sweep iterate this set.
var AllTaskKinds = []TaskKind{
	KindDetection2D,
	KindSegmentation2D,
	KindChangeDetection2D,
	KindSegmentation3D,
}

// Valid reports whether the kind belongs to the closed set.
func (k TaskKind) Valid() bool {
	switch k {
	case KindDetection2D, KindSegmentation2D, KindChangeDetection2D, KindSegmentation3D:
		return true
	default:
		return false
	}
}

// ParseTaskKind converts a wire string into a TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(s)
	if !k.Valid() {
		return "", ErrInvalidTaskKind
	}
	return k, nil
}

// Descriptor is the ephemeral queue message identifying which task-kind
// table and row a worker must process. It is never persisted beyond the
// queue; once popped, the queue holds no record of the work item.
type Descriptor struct {
	Kind      TaskKind `json:"type"`
	ID        int64    `json:"id"`
	ProjectID int64    `json:"project_id"`
}

// Marshal serializes the descriptor to its JSON wire form.
func (d Descriptor) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDescriptor parses a JSON wire message into a Descriptor.
// The kind is not validated here: the dispatcher logs and drops unknown
// kinds rather than failing the pop.
func UnmarshalDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Detection2DTask is one 2D object-detection work item. PlotImageID is
// populated by the dispatcher's completion write.
type Detection2DTask struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	ImageID     int64     `json:"image_id"`
	PlotImageID *int64    `json:"plot_image_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Segmentation2DTask is one 2D semantic-segmentation work item. The mask
// raster and its vector overlay are both recorded on completion.
type Segmentation2DTask struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	ImageID     int64     `json:"image_id"`
	MaskImageID *int64    `json:"mask_image_id,omitempty"`
	MaskSVGID   *int64    `json:"mask_svg_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChangeDetection2DTask is one 2D change-detection work item over a pair of
// co-registered images.
type ChangeDetection2DTask struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Image1ID    int64     `json:"image1_id"`
	Image2ID    int64     `json:"image2_id"`
	MaskImageID *int64    `json:"mask_image_id,omitempty"`
	MaskSVGID   *int64    `json:"mask_svg_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Segmentation3DTask is one 3D point-cloud segmentation work item.
type Segmentation3DTask struct {
	ID                 int64     `json:"id"`
	ProjectID          int64     `json:"project_id"`
	PointcloudID       int64     `json:"pointcloud_id"`
	ResultPointcloudID *int64    `json:"result_pointcloud_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Completed reports whether the task's completion fields are populated.
// Tasks have no explicit status column; completion is inferred from the
// presence of output asset references.
func (t *Detection2DTask) Completed() bool       { return t.PlotImageID != nil }
func (t *Segmentation2DTask) Completed() bool    { return t.MaskImageID != nil }
func (t *ChangeDetection2DTask) Completed() bool { return t.MaskImageID != nil }
func (t *Segmentation3DTask) Completed() bool    { return t.ResultPointcloudID != nil }
