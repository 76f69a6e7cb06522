package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dooh-web/landmark-detector/config"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, logrus.InfoLevel, newLogger(cfg).GetLevel())

	cfg.Log.Level = "debug"
	require.Equal(t, logrus.DebugLevel, newLogger(cfg).GetLevel())

	cfg.Log.Level = "chatty"
	require.Equal(t, logrus.InfoLevel, newLogger(cfg).GetLevel())
}

func TestDetectionMessage(t *testing.T) {
	require.Equal(t, MsgNoLandmark, detectionMessage(0, ""))
	require.Equal(t, "Landmark found: WTC.", detectionMessage(1, "WTC"))
	require.Equal(t, "Several landmarks found: 3. The first one is the most confident.", detectionMessage(3, "WTC"))
}

func TestNewAppState_RejectsBadDetectorSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.Variant = "unknown"
	_, err := newAppState(cfg, nil, logrus.New())
	require.Error(t, err)
}
