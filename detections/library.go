package detections

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// libraryDirs are searched, in order, when no library path is configured.
var libraryDirs = []string{"lib", "third_party"}

// libraryNames returns the onnxruntime shared library file names to look for
// on the given platform.
func libraryNames(goos, goarch string) []string {
	switch goos {
	case "windows":
		return []string{"onnxruntime.dll"}
	case "darwin":
		if goarch == "arm64" {
			return []string{"libonnxruntime.dylib", "onnxruntime_arm64.dylib"}
		}
		return []string{"libonnxruntime.dylib"}
	default:
		if goarch == "arm64" {
			return []string{"libonnxruntime.so", "onnxruntime_arm64.so"}
		}
		return []string{"libonnxruntime.so", "onnxruntime.so"}
	}
}

// ResolveLibraryPath returns the configured library if it exists, otherwise
// the first platform library found under libraryDirs. An empty result lets
// onnxruntime fall back to the system loader.
func ResolveLibraryPath(configured string) (string, error) {
	return findLibrary(configured, runtime.GOOS, runtime.GOARCH, fileExists)
}

func findLibrary(configured, goos, goarch string, exists func(string) bool) (string, error) {
	if configured != "" {
		if !exists(configured) {
			return "", errors.Errorf("onnxruntime library not found: %s", configured)
		}
		return configured, nil
	}
	for _, dir := range libraryDirs {
		for _, name := range libraryNames(goos, goarch) {
			candidate := filepath.Join(dir, name)
			if exists(candidate) {
				return candidate, nil
			}
		}
	}
	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
