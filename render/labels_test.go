package render

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dooh-web/landmark-detector/models"
)

func TestLabels_Label(t *testing.T) {
	labels := TrioLabels()
	require.Equal(t, "Hudson Yards - The Edge", labels.Label(0))
	require.Equal(t, "Empire State Building", labels.Label(1))
	require.Equal(t, "WTC", labels.Label(2))
	require.Equal(t, "Building 3", labels.Label(3))
	require.Equal(t, "Building -1", labels.Label(-1))

	require.Equal(t, "Building 0", Labels{}.Label(0))
	require.Equal(t, "class 7", Labels{Fallback: "class %d"}.Label(7))
	require.Equal(t, "Building 1", Labels{Names: []string{"a", ""}}.Label(1))
}

func TestLabels_Validate(t *testing.T) {
	for _, fallback := range []string{"", DefaultFallback, "class %d", "%d%% sure"} {
		require.NoError(t, Labels{Fallback: fallback}.Validate(), fallback)
	}
	for _, fallback := range []string{"Building", "%s", "%d and %d", "%d %s", "%%d"} {
		require.Error(t, Labels{Fallback: fallback}.Validate(), fallback)
	}
}

func TestLabels_Caption(t *testing.T) {
	labels := TrioLabels()
	require.Equal(t, "WTC 87.5%", labels.Caption(models.Detection{ClassID: 2, Confidence: 0.875}))
	require.Equal(t, "Hudson Yards - The Edge 100.0%", labels.Caption(models.Detection{Confidence: 1}))
	require.Equal(t, "Building 9 20.1%", labels.Caption(models.Detection{ClassID: 9, Confidence: 0.2006}))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#00ff00", 128)
	require.NoError(t, err)
	require.Equal(t, uint8(0), c.R)
	require.Equal(t, uint8(255), c.G)
	require.Equal(t, uint8(0), c.B)
	require.Equal(t, uint8(128), c.A)

	_, err = ParseColor("green", 255)
	require.Error(t, err)
}
