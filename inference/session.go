package inference

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrInputMismatch is returned when the fed inputs do not match the model.
var ErrInputMismatch = errors.New("inputs do not match the model")

// ErrIncompleteOutput is returned when an output holds fewer values than its
// shape needs.
var ErrIncompleteOutput = errors.New("output data does not match its shape")

// Session represents a model session from the onnxruntime with inputs and
// outputs bound by name on every run.
type Session struct {
	session *ort.DynamicAdvancedSession
	path    string
	backend providers.ProviderBackend
	inputs  []TensorInfo
	outputs []TensorInfo
	log     logrus.FieldLogger

	mu    sync.Mutex
	runs  int64
	total time.Duration
}

// Stats are the run counters of a session.
type Stats struct {
	Runs  int64         `json:"runs"`
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
}

// Open creates a session for the model at path.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Model I/O: reads input and output names, types and shapes.
//  3. Session options: optimization settings and the execution provider.
//  4. Session creation: loads the model with the options.
//
// Arguments:
//   - ctx: Cancels before the session is created.
//   - path: The ONNX model file.
//   - config: Provider and optimization settings.
//   - log: Logger for session lifecycle messages.
//
// Returns:
//   - *Session: The ready session. Close it when done.
//   - error: An error if any step fails.
func Open(ctx context.Context, path string, config providers.Config, log logrus.FieldLogger) (*Session, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"model": path, "backend": config.Backend})

	if err := providers.InitializeEnvironment(config.LibraryPath); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read input/output info of %s", path)
	}
	inputs := tensorInfos(inputInfo)
	outputs := tensorInfos(outputInfo)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options, err := providers.NewSessionOptions(config)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	start := time.Now()
	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), options)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", path)
	}
	log.WithField("duration", time.Since(start)).Debug("Session created")

	backend := config.Backend
	if backend == "" {
		backend = providers.CPUProviderBackend
	}
	return &Session{
		session: session,
		path:    path,
		backend: backend,
		inputs:  inputs,
		outputs: outputs,
		log:     log,
	}, nil
}

// Inputs describes the model inputs.
func (s *Session) Inputs() []TensorInfo { return s.inputs }

// Outputs describes the model outputs.
func (s *Session) Outputs() []TensorInfo { return s.outputs }

// Backend returns the execution provider the session was opened with.
func (s *Session) Backend() providers.ProviderBackend { return s.backend }

// Path returns the model file.
func (s *Session) Path() string { return s.path }

// Run feeds inputs, which must name every model input, and returns every
// model output in declaration order.
//
// Arguments:
//   - ctx: Checked before the run starts; a started run is not interrupted.
//   - inputs: The values to feed.
//
// Returns:
//   - []Output: The outputs, widened to float32.
//   - error: An error if inputs do not match or the runtime fails.
func (s *Session) Run(ctx context.Context, inputs []Input) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values, err := s.inputValues(inputs)
	if err != nil {
		return nil, err
	}
	defer destroyAll(values)

	outputs, err := s.outputValues()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = s.session.Run(values, outputs)
	elapsed := time.Since(start)
	defer destroyAll(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "run session")
	}

	s.mu.Lock()
	s.runs++
	s.total += elapsed
	s.mu.Unlock()

	result := make([]Output, len(outputs))
	for i, v := range outputs {
		out, err := readOutput(s.outputs[i], v)
		if err != nil {
			return nil, err
		}
		result[i] = out
	}
	return result, nil
}

// Stats returns how many runs completed and their total time.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Runs: s.runs, Total: s.total}
	if s.runs > 0 {
		stats.Mean = s.total / time.Duration(s.runs)
	}
	return stats
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return errors.Wrap(err, "error destroying ORT session")
}

// outputValues allocates float16 outputs with a static shape. onnxruntime_go
// copies only one byte per element when it allocates a float16 output itself,
// so those are bound up front. Other outputs are left nil for the runtime.
func (s *Session) outputValues() ([]ort.Value, error) {
	outputs := make([]ort.Value, len(s.outputs))
	for i, info := range s.outputs {
		if info.ElemType != onnx.DataTypeFloat16 || info.IsDynamic() {
			continue
		}
		n, err := numElements(info.Shape)
		if err != nil || n == 0 || len(info.Shape) == 0 {
			continue
		}
		v, err := ort.NewCustomDataTensor(ort.NewShape(info.Shape...), make([]byte, 2*n), ort.TensorElementDataTypeFloat16)
		if err != nil {
			destroyAll(outputs)
			return nil, errors.Wrapf(err, "allocate output %s", info.Name)
		}
		outputs[i] = v
	}
	return outputs, nil
}

func (s *Session) inputValues(inputs []Input) ([]ort.Value, error) {
	byName := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}

	values := make([]ort.Value, 0, len(s.inputs))
	for _, info := range s.inputs {
		in, ok := byName[info.Name]
		if !ok {
			destroyAll(values)
			return nil, errors.Wrapf(ErrInputMismatch, "missing input %s", info.Name)
		}
		if err := checkShape(info, in.Shape); err != nil {
			destroyAll(values)
			return nil, err
		}
		v, err := newValue(info.ElemType, in)
		if err != nil {
			destroyAll(values)
			return nil, errors.Wrap(err, info.Name)
		}
		values = append(values, v)
	}
	if len(inputs) != len(s.inputs) {
		destroyAll(values)
		return nil, errors.Wrapf(ErrInputMismatch, "got %d inputs, model has %d", len(inputs), len(s.inputs))
	}
	return values, nil
}

func checkShape(info TensorInfo, shape []int64) error {
	if len(shape) != len(info.Shape) {
		return errors.Wrapf(ErrInputMismatch, "%s has rank %d, model expects %v", info.Name, len(shape), info.Shape)
	}
	for i, d := range info.Shape {
		if d >= 0 && shape[i] != d {
			return errors.Wrapf(ErrInputMismatch, "%s has shape %v, model expects %v", info.Name, shape, info.Shape)
		}
	}
	return nil
}

// newValue converts float32 input data to the element type the model declares.
func newValue(elemType onnx.DataType, in Input) (ort.Value, error) {
	n, err := numElements(in.Shape)
	if err != nil {
		return nil, err
	}
	if n != len(in.Data) {
		return nil, errors.Wrapf(ErrInputMismatch, "shape %v needs %d values, got %d", in.Shape, n, len(in.Data))
	}
	shape := ort.NewShape(in.Shape...)

	switch elemType {
	case onnx.DataTypeFloat:
		return ort.NewTensor(shape, append([]float32(nil), in.Data...))
	case onnx.DataTypeFloat16:
		return ort.NewCustomDataTensor(shape, float16Bytes(in.Data), ort.TensorElementDataTypeFloat16)
	case onnx.DataTypeDouble:
		return ort.NewTensor(shape, convert[float64](in.Data))
	case onnx.DataTypeUint8:
		return ort.NewTensor(shape, saturate[uint8](in.Data, 0, 255))
	case onnx.DataTypeInt8:
		return ort.NewTensor(shape, saturate[int8](in.Data, -128, 127))
	case onnx.DataTypeInt32:
		return ort.NewTensor(shape, convert[int32](in.Data))
	case onnx.DataTypeInt64:
		return ort.NewTensor(shape, convert[int64](in.Data))
	}
	return nil, errors.Wrapf(ErrUnsupportedElementType, "%s", elemType)
}

func readOutput(info TensorInfo, v ort.Value) (Output, error) {
	out := Output{Name: info.Name, ElemType: info.ElemType, Shape: []int64(v.GetShape())}

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		out.Data = append([]float32(nil), t.GetData()...)
	case *ort.Tensor[float64]:
		out.Data = widen(t.GetData())
	case *ort.Tensor[uint8]:
		out.Data = widen(t.GetData())
	case *ort.Tensor[int8]:
		out.Data = widen(t.GetData())
	case *ort.Tensor[int32]:
		out.Data = widen(t.GetData())
	case *ort.Tensor[int64]:
		out.Data = widen(t.GetData())
	case *ort.CustomDataTensor:
		if info.ElemType != onnx.DataTypeFloat16 {
			return Output{}, errors.Wrapf(ErrUnsupportedElementType, "output %s is %s", info.Name, info.ElemType)
		}
		data, err := float16Values(out.Shape, t.GetData())
		if err != nil {
			return Output{}, errors.Wrapf(err, "output %s", info.Name)
		}
		out.Data = data
	default:
		return Output{}, errors.Wrapf(ErrUnsupportedElementType, "output %s has value type %T", info.Name, v)
	}
	return out, nil
}

func float16Bytes(values []float32) []byte {
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		bits := float16.Fromfloat32(v).Bits()
		raw[2*i] = byte(bits)
		raw[2*i+1] = byte(bits >> 8)
	}
	return raw
}

// float16Values decodes little endian half precision values. raw must hold
// exactly two bytes per element of shape.
func float16Values(shape []int64, raw []byte) ([]float32, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if len(raw) != 2*n {
		return nil, errors.Wrapf(ErrIncompleteOutput, "shape %v needs %d bytes, got %d", shape, 2*n, len(raw))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = float16.Frombits(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8).Float32()
	}
	return out, nil
}

func convert[T int32 | int64 | float64](values []float32) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}

func saturate[T uint8 | int8](values []float32, lo, hi float32) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(math32.Max(lo, math32.Min(hi, math32.Round(v))))
	}
	return out
}

func widen[T uint8 | int8 | int32 | int64 | float64](values []T) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func tensorInfos(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{
			Name: info.Name,
			// ONNX Runtime element types share the TensorProto numbering.
			ElemType: onnx.DataType(info.DataType),
			Shape:    append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}

func names(infos []TensorInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
