// Package backend defines the contracts between the job orchestrator and the
// rendering engine it drives: process supervision, request submission and
// progress monitoring, along with the node graph exchanged with the engine
// and the failure kinds a job can end in.
package backend
