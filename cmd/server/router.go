package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/terralens/terralens-api/internal/api"
	apiMiddleware "github.com/terralens/terralens-api/internal/api/middleware"
	"github.com/terralens/terralens-api/internal/api/shared"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace)

	taskHandler := api.NewTaskHandler(app.taskService)
	projectHandler := api.NewProjectHandler(app.projectService, app.taskService)
	objectHandler := api.NewObjectHandler(app.assetService)

	r.Route("/task", func(r chi.Router) {
		r.Post("/", taskHandler.CreateTask)
		r.Get("/", taskHandler.GetTask)
		r.Delete("/", taskHandler.DeleteTask)
	})

	r.Route("/project", func(r chi.Router) {
		r.Get("/", projectHandler.ListProjects)
		r.Get("/{id}", projectHandler.GetProject)
		r.Put("/{id}", projectHandler.UpdateProject)
		r.Delete("/{id}", projectHandler.DeleteProject)
	})

	r.Route("/object", func(r chi.Router) {
		r.Post("/image", objectHandler.UploadImage)
		r.Get("/image", objectHandler.ListImages)
		r.Get("/image/{id}", objectHandler.GetImage)
		r.Post("/pointcloud", objectHandler.UploadPointcloud)
		r.Get("/pointcloud", objectHandler.ListPointclouds)
		r.Get("/pointcloud/{id}", objectHandler.GetPointcloud)
		r.Delete("/{id}", objectHandler.DeleteObject)
	})

	r.Get("/healthz", app.handleHealthz)

	return r
}

// handleHealthz reports whether the database, the queue and the storage
// bucket are all reachable.
func (app *application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := app.db.PingContext(ctx); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "database unreachable", err)
		return
	}
	if _, err := app.taskQueue.Len(ctx); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "queue unreachable", err)
		return
	}
	if err := app.storage.Ping(ctx); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "object storage unreachable", err)
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
