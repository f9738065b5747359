package comfyui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Environment variable names for engine configuration.
const (
	envPythonPathDev     = "PYTHON_PATH_DEV"
	envComfyPathDev      = "COMFYUI_PATH_DEV"
	envModelCachePathDev = "MODEL_CACHE_PATH_DEV"
	envPort              = "COMFYUI_PORT"
	envSubmitRetries     = "COMFYUI_SUBMIT_RETRIES"
)

// Config holds configuration for the local ComfyUI engine.
type Config struct {
	// PythonPath is the interpreter used to launch the engine.
	PythonPath string

	// ComfyPath is the engine checkout; main.py lives here and images are
	// written to its output directory.
	ComfyPath string

	// ModelCachePath holds model directories to link into the engine.
	ModelCachePath string

	Host string
	Port int

	// SubmitRetries is the maximum number of retries for a prompt submission.
	SubmitRetries int
}

// LoadConfig reads engine configuration from environment variables. In
// production the container paths are fixed; in development they come from
// the *_DEV variables.
func LoadConfig(production bool) Config {
	cfg := Config{
		PythonPath:     DefaultPythonPathDev,
		ComfyPath:      defaultComfyPathDev(),
		ModelCachePath: DefaultModelCachePathDev,
		Host:           DefaultHost,
		Port:           DefaultPort,
		SubmitRetries:  DefaultSubmitRetries,
	}

	if production {
		cfg.PythonPath = ProdPythonPath
		cfg.ComfyPath = ProdComfyPath
		cfg.ModelCachePath = ProdModelCachePath
	} else {
		if v := os.Getenv(envPythonPathDev); v != "" {
			cfg.PythonPath = v
		}
		if v := os.Getenv(envComfyPathDev); v != "" {
			cfg.ComfyPath = v
		}
		if v := os.Getenv(envModelCachePathDev); v != "" {
			cfg.ModelCachePath = v
		}
	}

	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}
	if v := os.Getenv(envSubmitRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SubmitRetries = n
		}
	}

	return cfg
}

func defaultComfyPathDev() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "comfyui"
	}
	return filepath.Join(home, "comfyui")
}

// BaseURL returns the engine's HTTP root.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// EventURL returns the engine's event stream endpoint for clientID.
func (c Config) EventURL(clientID string) string {
	return fmt.Sprintf("ws://%s:%d/ws?clientId=%s", c.Host, c.Port, clientID)
}
