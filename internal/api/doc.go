// Package api contains the HTTP boundary: request/response models and
// handlers for projects, tasks and stored assets. Handlers decode, validate
// and dispatch to the service layer; they hold no domain logic of their own.
package api
