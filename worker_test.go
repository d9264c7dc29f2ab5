package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/inference"
	"github.com/Angelo-oinv/imx415-detector/models"
	"github.com/stretchr/testify/assert"
)

// writeFrame appends one length-prefixed frame to buf.
func writeFrame(buf *bytes.Buffer, payload []byte) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)
}

// recordLines strips the READY line and returns the per-frame JSON lines.
func recordLines(t *testing.T, out *bytes.Buffer) []string {
	t.Helper()
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) == 0 || lines[0] != "READY" {
		t.Fatalf("missing READY line: %q", out.String())
	}
	return lines[1:]
}

// nanOutputs builds head tensors whose only live cell carries a NaN
// objectness beside a full class score.
func nanOutputs(p detections.Params) [][]float32 {
	outs := make([][]float32, detections.NumScales)
	for s := range outs {
		outs[s] = make([]float32, p.OutputLen(s))
	}
	plane := p.GridSize(0) * p.GridSize(0)
	outs[0][4*plane] = float32(math.NaN())
	outs[0][5*plane] = 1.0
	return outs
}

func TestRunWorkerProcessesFrames(t *testing.T) {
	det := detections.NewDetector([]string{"person"}, detections.COCOParams())
	eng := &stubEngine{healthy: true, outputs: plantedOutputs(detections.COCOParams())}

	var in bytes.Buffer
	writeFrame(&in, pngFrame(t, 64, 64))
	writeFrame(&in, []byte("not an image"))
	writeFrame(&in, pngFrame(t, 32, 32))

	var out bytes.Buffer
	err := runWorker(&in, &out, det, eng)
	assert.NoError(t, err)

	lines := recordLines(t, &out)
	if !assert.Len(t, lines, 3) {
		return
	}

	var rec models.Result
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	assert.Empty(t, rec.Error)
	assert.Equal(t, 64, rec.Width)
	assert.Len(t, rec.Detections, 1)

	rec = models.Result{}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, rec.Detections)
	assert.Zero(t, rec.Width)

	// The loop keeps serving after a bad frame.
	rec = models.Result{}
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatalf("frame 3: %v", err)
	}
	assert.Empty(t, rec.Error)
	assert.Equal(t, 32, rec.Width)
}

func TestRunWorkerSurvivesNonFiniteOutputs(t *testing.T) {
	det := detections.NewDetector([]string{"person"}, detections.COCOParams())
	eng := &stubEngine{healthy: true, outputs: nanOutputs(detections.COCOParams())}

	var in bytes.Buffer
	writeFrame(&in, pngFrame(t, 16, 16))
	writeFrame(&in, pngFrame(t, 24, 24))

	var out bytes.Buffer
	err := runWorker(&in, &out, det, eng)
	assert.NoError(t, err)

	// Garbage logits drop out at the decode gate; both frames still get
	// their line and the loop stays up.
	lines := recordLines(t, &out)
	if !assert.Len(t, lines, 2) {
		return
	}
	for i, wantWidth := range []int{16, 24} {
		var rec models.Result
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
		assert.Empty(t, rec.Error)
		assert.Equal(t, wantWidth, rec.Width)
		assert.NotNil(t, rec.Detections)
		assert.Empty(t, rec.Detections)
	}
}

func TestRunWorkerZeroLengthFrame(t *testing.T) {
	det := detections.NewDetector(nil, detections.COCOParams())
	eng := &stubEngine{healthy: true}

	var in bytes.Buffer
	writeFrame(&in, nil)
	writeFrame(&in, pngFrame(t, 16, 16))

	var out bytes.Buffer
	err := runWorker(&in, &out, det, eng)
	assert.NoError(t, err)

	lines := recordLines(t, &out)
	if !assert.Len(t, lines, 2) {
		return
	}

	// An empty payload is a decode failure, not a protocol error.
	var rec models.Result
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	assert.NotEmpty(t, rec.Error)
}

func TestRunWorkerStopsOnWedgedEngine(t *testing.T) {
	det := detections.NewDetector(nil, detections.COCOParams())
	eng := &stubEngine{healthy: false, inferErr: inference.ErrTimeout}

	var in bytes.Buffer
	writeFrame(&in, pngFrame(t, 16, 16))
	writeFrame(&in, pngFrame(t, 16, 16))

	var out bytes.Buffer
	err := runWorker(&in, &out, det, eng)
	assert.ErrorIs(t, err, inference.ErrTimeout)

	// The timeout record went out before the loop stopped; the second
	// frame was never touched.
	lines := recordLines(t, &out)
	if assert.Len(t, lines, 1) {
		var rec models.Result
		if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
			t.Fatalf("record: %v", err)
		}
		assert.NotEmpty(t, rec.Error)
	}
}

func TestRunWorkerEmptyStream(t *testing.T) {
	det := detections.NewDetector(nil, detections.COCOParams())
	eng := &stubEngine{healthy: true}

	var out bytes.Buffer
	err := runWorker(strings.NewReader(""), &out, det, eng)
	assert.NoError(t, err)
	assert.Equal(t, "READY\n", out.String())
}
