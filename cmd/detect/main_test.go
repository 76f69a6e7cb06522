package main

import (
	"bytes"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dooh-web/landmark-detector/models"
	"github.com/dooh-web/landmark-detector/render"
)

func TestPrintDetections_Text(t *testing.T) {
	var buf bytes.Buffer
	dets := []models.Detection{
		{X1: 10, Y1: 20, X2: 110, Y2: 220, Confidence: 0.91, ClassID: 1},
		{X1: 0, Y1: 0, X2: 5, Y2: 5, Confidence: 0.7, ClassID: 4, Clamped: true},
	}
	require.NoError(t, printDetections(&buf, dets, render.TrioLabels(), false))

	require.Equal(t, "Detections (2):\n"+
		"  1: Empire State Building 91.0% at [10.0, 20.0, 110.0, 220.0]\n"+
		"  2: Building 4 70.0% at [0.0, 0.0, 5.0, 5.0] (clamped)\n", buf.String())

	buf.Reset()
	require.NoError(t, printDetections(&buf, nil, render.TrioLabels(), false))
	require.Equal(t, "No detections\n", buf.String())
}

func TestPrintDetections_JSON(t *testing.T) {
	var buf bytes.Buffer
	dets := []models.Detection{{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.8, ClassID: 2}}
	require.NoError(t, printDetections(&buf, dets, render.TrioLabels(), true))

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "WTC", out[0]["label"])
	require.Equal(t, 0.8, out[0]["confidence"])
	require.Equal(t, 3.0, out[0]["x2"])
}

func TestRun_MissingImage(t *testing.T) {
	logger := logrus.New()
	err := run(options{imagePath: "does-not-exist.png"}, logger, &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does-not-exist.png")
}

func TestRun_ChecksConfiguredLibrary(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "frame.png")
	require.NoError(t, render.SavePNG(imagePath, image.NewRGBA(image.Rect(0, 0, 8, 8))))

	configPath := filepath.Join(dir, "detector.yaml")
	missing := filepath.Join(dir, "libonnxruntime.so")
	require.NoError(t, os.WriteFile(configPath, []byte("model:\n  library_path: "+missing+"\n"), 0o600))
	t.Setenv("ORT_LIBRARY_PATH", "")

	err := run(options{configPath: configPath, imagePath: imagePath}, logrus.New(), &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "onnxruntime library not found")
}
