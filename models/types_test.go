package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorResult(t *testing.T) {
	r := ErrorResult(errors.New("decode image: bad magic"))

	assert.Equal(t, "decode image: bad magic", r.Error)
	assert.NotNil(t, r.Detections)
	assert.Empty(t, r.Detections)
	assert.Zero(t, r.Width)
	assert.Zero(t, r.Height)
}

func TestResultJSONShape(t *testing.T) {
	t.Run("success record", func(t *testing.T) {
		r := Result{
			Width:  1920,
			Height: 1080,
			Detections: []Detection{
				{
					Class:      "person",
					Confidence: 0.9,
					BBox:       BBox{X1: 10, Y1: 20, X2: 110, Y2: 220},
				},
			},
		}

		data, err := json.Marshal(&r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		want := `{"width":1920,"height":1080,"detections":[{"class":"person","confidence":0.9,"bbox":{"x1":10,"y1":20,"x2":110,"y2":220}}]}`
		assert.JSONEq(t, want, string(data))

		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		assert.NotContains(t, keys, "error")
	})

	t.Run("error record omits dimensions", func(t *testing.T) {
		data, err := json.Marshal(ErrorResult(errors.New("boom")))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		assert.JSONEq(t, `{"error":"boom","detections":[]}`, string(data))
	})

	t.Run("empty detections stay an array", func(t *testing.T) {
		r := Result{Width: 640, Height: 480, Detections: []Detection{}}
		data, err := json.Marshal(&r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		assert.Contains(t, string(data), `"detections":[]`)
	})

	t.Run("round trip", func(t *testing.T) {
		in := Result{
			Width:  640,
			Height: 480,
			Detections: []Detection{
				{Class: "dog", Confidence: 0.754, BBox: BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}},
			},
		}
		data, err := json.Marshal(&in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out Result
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		assert.Equal(t, in, out)
	})
}
