package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/terralens/terralens-api/internal/assets"
	"github.com/terralens/terralens-api/internal/config"
	"github.com/terralens/terralens-api/internal/platform/objectstore"
	"github.com/terralens/terralens-api/internal/platform/postgres"
	"github.com/terralens/terralens-api/internal/platform/queue"
	"github.com/terralens/terralens-api/internal/service"
	"github.com/terralens/terralens-api/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	storage   *objectstore.Store
	taskQueue *queue.Queue

	projectService service.ProjectService
	assetService   service.AssetService
	taskService    service.TaskService

	dispatcher *task.Dispatcher
}

// newApplication creates a new application instance with all dependencies
// initialized. Unfinished projects are requeued before the dispatcher
// starts, so work orphaned by a previous crash is picked up first.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.storage, err = objectstore.New(ctx, cfg.Minio)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	logger.Info("object storage ready", slog.String("bucket", cfg.Minio.Bucket))

	app.taskQueue, err = queue.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task queue: %w", err)
	}
	logger.Info("task queue ready", slog.String("queue", cfg.Redis.QueueName))

	objectRepo := service.NewObjectRepositoryAdapter(postgres.NewObjectStore(db))
	projectRepo := service.NewProjectRepositoryAdapter(postgres.NewProjectStore(db))
	taskRepo := service.NewTaskRepositoryAdapter(postgres.NewTaskStore(db))

	previewer, err := service.NewPointcloudPreviewer(service.PreviewOptions{
		BaseURL:      cfg.Preview.BaseURL,
		ViewerFolder: cfg.Preview.ViewerFolder,
		ServerRoot:   cfg.Preview.ServerRoot,
		Command:      cfg.Preview.PublishCommand,
		Timeout:      time.Duration(cfg.Preview.TimeoutSeconds) * time.Second,
	}, app.storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pointcloud previewer: %w", err)
	}

	app.assetService, err = service.NewAssetService(db, objectRepo, app.storage, previewer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset service: %w", err)
	}

	app.projectService, err = service.NewProjectService(projectRepo, objectRepo, app.storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create project service: %w", err)
	}

	app.taskService, err = service.NewTaskService(
		db,
		projectRepo,
		taskRepo,
		objectRepo,
		app.assetService,
		app.taskQueue,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	requeued, err := app.taskService.RequeueUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue unfinished projects: %w", err)
	}
	if requeued > 0 {
		logger.Info("requeued unfinished projects", slog.Int("count", requeued))
	}

	app.dispatcher, err = setupDispatcher(app, taskRepo, objectRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to setup dispatcher: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// setupDispatcher builds the per-kind handlers and the single-worker
// dispatcher around them.
func setupDispatcher(app *application, taskRepo service.TaskRepository, objectRepo service.ObjectRepository) (*task.Dispatcher, error) {
	worker := app.config.Worker

	segPalette, err := paletteFromConfig(worker.Segmentation2DClasses, worker.MaskChannelOrder)
	if err != nil {
		return nil, fmt.Errorf("invalid segmentation palette: %w", err)
	}
	changePalette, err := paletteFromConfig(worker.ChangeDetectionClasses, worker.MaskChannelOrder)
	if err != nil {
		return nil, fmt.Errorf("invalid change-detection palette: %w", err)
	}

	deps := task.HandlerDeps{
		Tasks:      taskRepo,
		TaskSvc:    app.taskService,
		Assets:     app.assetService,
		Objects:    objectRepo,
		Storage:    app.storage,
		Inference:  task.NewInference(time.Duration(worker.InferenceTimeoutSeconds) * time.Second),
		ScratchDir: worker.ScratchDir,
		Logger:     app.logger,
	}

	handlers := []task.Handler{
		task.NewDetection2DHandler(deps, worker.Detection2DCommand),
		task.NewSegmentation2DHandler(deps, worker.Segmentation2DCommand, segPalette),
		task.NewChangeDetection2DHandler(deps, worker.ChangeDetection2DCmd, changePalette),
		task.NewSegmentation3DHandler(deps, worker.Segmentation3DCommand),
	}

	dispatcher := task.NewDispatcher(app.taskQueue, app.taskService, handlers, app.logger)
	dispatcher.Start()
	return dispatcher, nil
}

// paletteFromConfig converts configured class colors into an overlay color
// map, honoring the configured channel order.
func paletteFromConfig(classes []config.ClassColorConfig, order string) (assets.ColorMap, error) {
	entries := make([]assets.ClassColor, 0, len(classes))
	for _, c := range classes {
		if len(c.Color) != 3 {
			return nil, fmt.Errorf("class %q needs a 3-channel color", c.Label)
		}
		entries = append(entries, assets.ClassColor{
			Label: c.Label,
			Color: [3]uint8{c.Color[0], c.Color[1], c.Color[2]},
		})
	}
	return assets.NewColorMap(entries, assets.ChannelOrder(order))
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. The
// dispatcher stops first so a running task can finish before its queue
// connection goes away.
func (app *application) cleanup() {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}

	if app.taskQueue != nil {
		if err := app.taskQueue.Close(); err != nil {
			app.logger.Error("error closing task queue", slog.String("error", err.Error()))
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("application shutdown completed")
}
