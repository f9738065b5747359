package comfyui

import "time"

// Network defaults.
const (
	// DefaultHost is the address the worker reaches the engine on.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the port the engine is launched on.
	DefaultPort = 3000

	// DefaultSubmitRetries bounds retries of a prompt submission.
	DefaultSubmitRetries = 10
)

// Container paths used in production.
const (
	ProdPythonPath     = "/opt/venv/bin/python"
	ProdComfyPath      = "/comfyui"
	ProdModelCachePath = "/runpod-volume/models"
)

// Development defaults, overridable through the environment.
const (
	DefaultPythonPathDev     = "/usr/bin/python3"
	DefaultModelCachePathDev = "/workspace/models"
)

const (
	// probeTimeout bounds a single health probe.
	probeTimeout = time.Second

	// readyPollInterval is the delay between readiness probes.
	readyPollInterval = 500 * time.Millisecond

	// stopGrace is how long Stop waits for the process group to exit
	// after SIGTERM before escalating to SIGKILL.
	stopGrace = 10 * time.Second

	submitRetryWaitMin = 100 * time.Millisecond
	submitRetryWaitMax = 10 * time.Second

	// maxResponseSize caps how much of a /prompt response is read.
	maxResponseSize = 1 << 20

	// eventReadLimit caps a single event-stream message. The engine also
	// streams binary preview images on the same socket.
	eventReadLimit = 64 << 20

	// outputLineMax is the longest engine output line that is logged whole.
	outputLineMax = 1 << 20
)
