package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Minio    MinioConfig    `mapstructure:"minio" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Preview  PreviewConfig  `mapstructure:"preview"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// MinioConfig contains the object-storage connection and bucket settings.
// ShareBaseURL is the public base used to build share links for stored
// objects; it usually points at a reverse proxy in front of the bucket.
type MinioConfig struct {
	Endpoint     string `mapstructure:"endpoint" validate:"required"`
	AccessKey    string `mapstructure:"access_key" validate:"required"`
	SecretKey    string `mapstructure:"secret_key" validate:"required"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	ShareBaseURL string `mapstructure:"share_base_url" validate:"required,url"`
}

// RedisConfig contains the task-queue connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	QueueName string `mapstructure:"queue_name" validate:"required"`
}

// WorkerConfig contains the background dispatcher settings: where scratch
// files are materialized, how long an inference subprocess may run, and the
// external command invoked for each analysis kind. A command is the program
// name followed by fixed arguments; the dispatcher appends the input and
// output scratch paths.
type WorkerConfig struct {
	ScratchDir              string   `mapstructure:"scratch_dir" validate:"required"`
	InferenceTimeoutSeconds int      `mapstructure:"inference_timeout_seconds" validate:"required,gt=0"`
	Detection2DCommand      []string `mapstructure:"detection_2d_command" validate:"required,min=1"`
	Segmentation2DCommand   []string `mapstructure:"segmentation_2d_command" validate:"required,min=1"`
	ChangeDetection2DCmd    []string `mapstructure:"change_detection_2d_command" validate:"required,min=1"`
	Segmentation3DCommand   []string `mapstructure:"segmentation_3d_command" validate:"required,min=1"`

	// MaskChannelOrder states how the class palettes list their color
	// triplets. Inference models commonly emit BGR rasters.
	MaskChannelOrder string `mapstructure:"mask_channel_order" validate:"required,oneof=rgb bgr"`

	// Segmentation2DClasses and ChangeDetectionClasses map mask raster
	// colors to class labels for the derived SVG overlays. Order matters:
	// later classes draw on top.
	Segmentation2DClasses  []ClassColorConfig `mapstructure:"segmentation_2d_classes"`
	ChangeDetectionClasses []ClassColorConfig `mapstructure:"change_detection_classes"`
}

// PreviewConfig controls browser preview generation for stored point
// clouds. Leaving BaseURL empty disables the feature. Pages are keyed by
// object etag, so re-uploading identical bytes reuses the published page.
type PreviewConfig struct {
	BaseURL        string   `mapstructure:"base_url" validate:"omitempty,url"`
	ViewerFolder   string   `mapstructure:"viewer_folder"`
	ServerRoot     string   `mapstructure:"server_root" validate:"required_with=BaseURL"`
	PublishCommand []string `mapstructure:"publish_command" validate:"required_with=BaseURL"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// ClassColorConfig is one overlay palette entry.
type ClassColorConfig struct {
	Label string  `mapstructure:"label" validate:"required"`
	Color []uint8 `mapstructure:"color" validate:"required,len=3"`
}
