package render

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/dooh-web/landmark-detector/models"
)

// DefaultFallback formats labels for class ids missing from the table.
const DefaultFallback = "Building %d"

// Labels maps class ids to display names.
type Labels struct {
	Names    []string `yaml:"names"`
	Fallback string   `yaml:"fallback"`
}

// TrioLabels is the table for the three-landmark model.
func TrioLabels() Labels {
	return Labels{
		Names:    []string{"Hudson Yards - The Edge", "Empire State Building", "WTC"},
		Fallback: DefaultFallback,
	}
}

// Label returns the name for classID, falling back to the formatted id.
func (l Labels) Label(classID int) string {
	if classID >= 0 && classID < len(l.Names) && l.Names[classID] != "" {
		return l.Names[classID]
	}
	format := l.Fallback
	if format == "" {
		format = DefaultFallback
	}
	return fmt.Sprintf(format, classID)
}

// Validate checks that a non-empty fallback takes exactly one %d verb.
func (l Labels) Validate() error {
	if l.Fallback == "" {
		return nil
	}
	verbs := strings.ReplaceAll(l.Fallback, "%%", "")
	if strings.Count(verbs, "%") != 1 || strings.Count(verbs, "%d") != 1 {
		return errors.Errorf("fallback %q must contain exactly one %%d verb", l.Fallback)
	}
	return nil
}

// Caption is the text drawn above a box, e.g. "WTC 87.5%".
func (l Labels) Caption(d models.Detection) string {
	return l.Label(d.ClassID) + " " + formatPercent(d.Confidence)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
