// Package orchestrator runs image-generation jobs end to end: it makes sure
// the engine is up, builds and submits the job's graph, races the engine's
// progress stream against the job deadline and records a single outcome per
// job. Jobs run one at a time per worker.
package orchestrator
