// Package workflow builds the engine graphs for the named image-generation
// workflows the worker can run.
package workflow
