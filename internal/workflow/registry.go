package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Workflow names bundled with the worker.
const (
	NameSD15                  = "sd_1_5"
	NameSDXLLightning4Step    = "sdxl_lightning_4step"
	NameJuggernautXILightning = "sdxl_lightning_6step_juggernaut_xi"
)

// DefaultName is the workflow used when a request does not name one.
const DefaultName = NameSD15

var (
	// ErrUnknownWorkflow is returned by Get for names that are not registered.
	ErrUnknownWorkflow = fmt.Errorf("%w: unknown workflow", backend.ErrInvalidRequest)

	// ErrInvalidAspectRatio is returned for aspect ratios that are not "W:H" or "W_H".
	ErrInvalidAspectRatio = fmt.Errorf("%w: invalid aspect ratio", backend.ErrInvalidRequest)
)

// Builder turns a prompt into an engine graph.
type Builder interface {
	Build(prompt, aspectRatio, jobID, prefix string) (backend.Graph, error)
}

// Info pairs a workflow name with its builder for listing.
type Info struct {
	Name    string  `json:"name"`
	Default bool    `json:"default"`
	Builder Builder `json:"params"`
}

// Registry holds the named workflows a worker can run.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
	}
}

// DefaultRegistry returns a registry holding the bundled workflows.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameSD15, StableDiffusion{
		Checkpoint:     "v1-5-pruned-emaonly.safetensors",
		NegativePrompt: negativePrompt,
		MaxSize:        768,
		Steps:          40,
		CFG:            9,
		Sampler:        defaultSampler,
		Scheduler:      defaultScheduler,
		Denoise:        defaultDenoise,
	})
	r.Register(NameSDXLLightning4Step, StableDiffusion{
		Checkpoint:     "sdxl_lightning_4step.safetensors",
		NegativePrompt: negativePrompt,
		MaxSize:        1024,
		Steps:          4,
		CFG:            1.5,
		Sampler:        "dpmpp_sde",
		Scheduler:      defaultScheduler,
		Denoise:        defaultDenoise,
	})
	r.Register(NameJuggernautXILightning, StableDiffusion{
		Checkpoint:     "juggernautXL_juggXILightningByRD.safetensors",
		NegativePrompt: negativePrompt,
		MaxSize:        1024,
		Steps:          6,
		CFG:            1.5,
		Sampler:        "dpmpp_sde",
		Scheduler:      defaultScheduler,
		Denoise:        defaultDenoise,
	})
	return r
}

// Register adds a workflow under the given name, replacing any existing one.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Get returns the workflow registered under name. An empty name selects
// DefaultName.
func (r *Registry) Get(name string) (Builder, error) {
	if name == "" {
		name = DefaultName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q not found, available workflows: %s",
			ErrUnknownWorkflow, name, strings.Join(r.namesLocked(), ", "))
	}
	return b, nil
}

// List returns all registered workflows sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.builders))
	for _, name := range r.namesLocked() {
		infos = append(infos, Info{
			Name:    name,
			Default: name == DefaultName,
			Builder: r.builders[name],
		})
	}
	return infos
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
