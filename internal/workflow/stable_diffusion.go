package workflow

import (
	"math/rand/v2"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Seeds are drawn from [seedMin, seedMax).
const (
	seedMin int64 = 100_000_000_000_000
	seedMax int64 = 1_000_000_000_000_000
)

// Sampler defaults shared by the stable diffusion workflows.
const (
	defaultSampler   = "euler"
	defaultScheduler = "normal"
	defaultDenoise   = 1.0
)

const negativePrompt = "text, watermark, blurry, low quality, bad quality"

// StableDiffusion holds the tunables of the single-checkpoint text-to-image
// graph: checkpoint loader, two text encoders, empty latent, sampler, VAE
// decode and save.
type StableDiffusion struct {
	Checkpoint     string  `json:"checkpoint"`
	NegativePrompt string  `json:"negative_prompt"`
	MaxSize        int     `json:"max_size"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	Sampler        string  `json:"sampler"`
	Scheduler      string  `json:"scheduler"`
	Denoise        float64 `json:"denoise"`
}

// Build returns the graph for prompt. The saved image is named
// "<prefix>_<jobID>_00001_.png" by the engine.
func (sd StableDiffusion) Build(prompt, aspectRatio, jobID, prefix string) (backend.Graph, error) {
	width, height, err := Dimensions(sd.MaxSize, aspectRatio)
	if err != nil {
		return nil, err
	}

	seed := seedMin + rand.Int64N(seedMax-seedMin)

	return backend.Graph{
		"3": {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"model":        []any{"4", 0},
				"positive":     []any{"6", 0},
				"negative":     []any{"7", 0},
				"latent_image": []any{"5", 0},
				"seed":         seed,
				"steps":        sd.Steps,
				"cfg":          sd.CFG,
				"sampler_name": sd.Sampler,
				"scheduler":    sd.Scheduler,
				"denoise":      sd.Denoise,
			},
		},
		"4": {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": sd.Checkpoint},
		},
		"5": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]any{
				"width":      width,
				"height":     height,
				"batch_size": 1,
			},
		},
		"6": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]any{
				"clip": []any{"4", 1},
				"text": prompt,
			},
		},
		"7": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]any{
				"clip": []any{"4", 1},
				"text": sd.NegativePrompt,
			},
		},
		"8": {
			ClassType: "VAEDecode",
			Inputs: map[string]any{
				"samples": []any{"3", 0},
				"vae":     []any{"4", 2},
			},
		},
		"9": {
			ClassType: "SaveImage",
			Inputs: map[string]any{
				"images":          []any{"8", 0},
				"filename_prefix": prefix + "_" + jobID,
			},
		},
	}, nil
}
