package detections

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the onnxruntime shared library once per process.
func InitRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize onnxruntime environment")
	}
	return nil
}

// DestroyRuntime releases the onnxruntime environment.
func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// OnnxConfig describes one model file and how to open it.
type OnnxConfig struct {
	ModelPath string
	// InputName and OutputName default to the model's first input and output.
	InputName      string
	OutputName     string
	IntraOpThreads int
	InterOpThreads int
}

// OnnxEngine runs a detection model through onnxruntime. It is created
// Unloaded; Load opens the session and Close releases it.
type OnnxEngine struct {
	cfg       OnnxConfig
	lifecycle Lifecycle
	session   *ort.DynamicAdvancedSession
}

func NewOnnxEngine(cfg OnnxConfig) *OnnxEngine {
	return &OnnxEngine{cfg: cfg}
}

// State reports the engine lifecycle state.
func (e *OnnxEngine) State() (EngineState, error) {
	return e.lifecycle.State()
}

// Load opens the session. The runtime must already be initialized.
func (e *OnnxEngine) Load() error {
	return e.lifecycle.Load(e.open)
}

func (e *OnnxEngine) open() error {
	inputName, outputName := e.cfg.InputName, e.cfg.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(e.cfg.ModelPath)
		if err != nil {
			return errors.Wrapf(err, "read model io info from %s", e.cfg.ModelPath)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return errors.Errorf("model %s has %d inputs and %d outputs", e.cfg.ModelPath, len(inputs), len(outputs))
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	intra, inter := e.cfg.IntraOpThreads, e.cfg.InterOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(intra); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(inter); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}

	session, err := ort.NewDynamicAdvancedSession(
		e.cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		options,
	)
	if err != nil {
		return errors.Wrapf(err, "create session for %s", e.cfg.ModelPath)
	}
	e.session = session
	return nil
}

// Run executes the model on one packed tensor.
func (e *OnnxEngine) Run(ctx context.Context, input []float32, size int) (*RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pred *RawPrediction
	err := e.lifecycle.Use(func() error {
		inputTensor, err := ort.NewTensor(ort.NewShape(1, NumChannels, int64(size), int64(size)), input)
		if err != nil {
			return errors.Wrap(err, "create input tensor")
		}
		defer inputTensor.Destroy()

		outputs := []ort.Value{nil}
		if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
			return errors.Wrap(err, "run session")
		}
		defer outputs[0].Destroy()

		out, ok := outputs[0].(*ort.Tensor[float32])
		if !ok {
			return errors.Errorf("unexpected output value %T", outputs[0])
		}
		data := make([]float32, len(out.GetData()))
		copy(data, out.GetData())

		pred, err = NewRawPrediction([]int64(out.GetShape()), data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pred, nil
}

// Close destroys the session and returns the engine to Unloaded.
func (e *OnnxEngine) Close() error {
	return e.lifecycle.Dispose(func() error {
		if e.session == nil {
			return nil
		}
		err := e.session.Destroy()
		e.session = nil
		return err
	})
}
