package detections

import (
	"fmt"

	"github.com/pkg/errors"
)

// SchemaKind tags the prediction layout a model was exported with.
type SchemaKind int

const (
	// SingleClass models emit one raw confidence row after the box rows.
	SingleClass SchemaKind = iota
	// MultiClass models emit one logit row per class after the box rows.
	MultiClass
)

func (k SchemaKind) String() string {
	switch k {
	case SingleClass:
		return "single"
	case MultiClass:
		return "multi"
	default:
		return fmt.Sprintf("SchemaKind(%d)", int(k))
	}
}

// ParseSchemaKind accepts "single" or "multi".
func ParseSchemaKind(s string) (SchemaKind, error) {
	switch s {
	case "single", "single-class":
		return SingleClass, nil
	case "multi", "multi-class":
		return MultiClass, nil
	}
	return 0, errors.Errorf("unknown schema kind %q", s)
}

// DecodeSchema is the feature layout of a model's [1, F, N] output. Aux
// features (mask coefficients and the like) trail the scores and are ignored.
type DecodeSchema struct {
	Kind        SchemaKind
	ClassCount  int
	AuxFeatures int
}

// SingleClassSchema is F = 5 + aux.
func SingleClassSchema(aux int) DecodeSchema {
	return DecodeSchema{Kind: SingleClass, ClassCount: 1, AuxFeatures: aux}
}

// MultiClassSchema is F = 4 + classes + aux.
func MultiClassSchema(classes, aux int) DecodeSchema {
	return DecodeSchema{Kind: MultiClass, ClassCount: classes, AuxFeatures: aux}
}

// FeatureCount is the F the schema expects.
func (s DecodeSchema) FeatureCount() int {
	return s.minFeatures() + s.AuxFeatures
}

// minFeatures is the number of rows the decoder actually reads.
func (s DecodeSchema) minFeatures() int {
	if s.Kind == MultiClass {
		return BoxFeatures + s.ClassCount
	}
	return BoxFeatures + 1
}

// Validate reports schemas that cannot describe any output.
func (s DecodeSchema) Validate() error {
	switch s.Kind {
	case SingleClass:
	case MultiClass:
		if s.ClassCount < 1 {
			return errors.Errorf("multi-class schema needs at least one class, got %d", s.ClassCount)
		}
	default:
		return errors.Errorf("unknown schema kind %d", int(s.Kind))
	}
	if s.AuxFeatures < 0 {
		return errors.Errorf("negative aux feature count %d", s.AuxFeatures)
	}
	return nil
}

func (s DecodeSchema) String() string {
	if s.Kind == MultiClass {
		return fmt.Sprintf("multi-class(classes=%d, aux=%d, F=%d)", s.ClassCount, s.AuxFeatures, s.FeatureCount())
	}
	return fmt.Sprintf("single-class(aux=%d, F=%d)", s.AuxFeatures, s.FeatureCount())
}
