package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCOCOParams(t *testing.T) {
	p := COCOParams()

	assert.Equal(t, float32(0.25), p.ConfThreshold)
	assert.Equal(t, float32(0.45), p.NMSThreshold)
	assert.Equal(t, [NumScales]int{8, 16, 32}, p.Strides)
	assert.Equal(t, [2]float32{10, 13}, p.Anchors[0][0])
	assert.Equal(t, [2]float32{373, 326}, p.Anchors[2][2])
}

func TestParamsGeometry(t *testing.T) {
	p := COCOParams()

	assert.Equal(t, 80, p.GridSize(0))
	assert.Equal(t, 40, p.GridSize(1))
	assert.Equal(t, 20, p.GridSize(2))

	assert.Equal(t, 255, p.HeadChannels())

	assert.Equal(t, 255*80*80, p.OutputLen(0))
	assert.Equal(t, 255*40*40, p.OutputLen(1))
	assert.Equal(t, 255*20*20, p.OutputLen(2))
}
