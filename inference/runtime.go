package inference

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ResolveLibraryPath picks the onnxruntime shared library to load. An
// explicit path wins; otherwise the platform's conventional name is
// returned and the dynamic loader searches its usual locations.
func ResolveLibraryPath(configured string) string {
	if configured != "" {
		return configured
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// InitRuntime loads the shared library and initializes the onnxruntime
// environment. Call once at startup, paired with ShutdownRuntime.
func InitRuntime(libraryPath string) error {
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownRuntime destroys the onnxruntime environment. Engines must be
// closed first.
func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}
