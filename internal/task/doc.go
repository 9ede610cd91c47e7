// Package task contains the background worker: the dispatcher loop that
// pops descriptors off the queue and the per-kind handlers that fetch
// inputs, run the external inference process, and persist results.
package task
