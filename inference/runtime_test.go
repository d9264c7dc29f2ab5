package inference

import (
	"strings"
	"testing"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/stretchr/testify/assert"
)

func TestResolveLibraryPath(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		assert.Equal(t, "/opt/ort/libonnxruntime.so.1.20.0",
			ResolveLibraryPath("/opt/ort/libonnxruntime.so.1.20.0"))
	})

	t.Run("platform default", func(t *testing.T) {
		path := ResolveLibraryPath("")
		assert.NotEmpty(t, path)
		assert.True(t, strings.Contains(path, "onnxruntime"))
	})
}

func TestNewORTEngineValidatesOutputNames(t *testing.T) {
	_, err := NewORTEngine(Config{OutputNames: []string{"output0"}}, detections.COCOParams())
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "output names")
	}
}

func TestEngineStateMachine(t *testing.T) {
	t.Run("closed engine refuses passes", func(t *testing.T) {
		e := &ORTEngine{closed: true}
		_, err := e.Infer(nil)
		assert.ErrorIs(t, err, ErrClosed)
		assert.False(t, e.Healthy())
		assert.NoError(t, e.Close())
	})

	t.Run("wedged engine stays wedged", func(t *testing.T) {
		e := &ORTEngine{wedged: true}
		for i := 0; i < 3; i++ {
			_, err := e.Infer(nil)
			assert.ErrorIs(t, err, ErrTimeout)
		}
		assert.False(t, e.Healthy())

		// Close leaks the wedged session rather than destroying it under
		// a possibly still-running native call.
		assert.NoError(t, e.Close())
		_, err := e.Infer(nil)
		assert.ErrorIs(t, err, ErrClosed)
	})
}
