// Package service contains the application services sitting between the
// transport layer and the stores: asset ingestion with derived thumbnails
// and overlays, and the analysis task lifecycle (transactional creation,
// queueing, completion, deletion).
package service
