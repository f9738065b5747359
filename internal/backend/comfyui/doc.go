// Package comfyui drives a local ComfyUI instance: it supervises the engine
// process, submits graphs over HTTP and follows execution over the engine's
// WebSocket event stream.
package comfyui
