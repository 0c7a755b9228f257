// Package analysis implements the cyclic peptide analysis operations and
// their argument schemas.
//
// Each operation is a pure, synchronous function: validated arguments in,
// result payload plus output files out. The job manager treats operations as
// opaque executable units; everything operation-specific (parameter names,
// types, constraints) lives here.
package analysis

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

type ParamKind string

const (
	ParamString  ParamKind = "string"
	ParamFloat   ParamKind = "float"
	ParamInt     ParamKind = "int"
	ParamBool    ParamKind = "bool"
	ParamIntList ParamKind = "int_list"
)

// ParamSpec declares one accepted parameter of an operation.
type ParamSpec struct {
	Name     string    `json:"name"`
	Kind     ParamKind `json:"kind"`
	Required bool      `json:"required"`
	// InputPath marks string parameters that must reference an existing,
	// readable file.
	InputPath bool `json:"input_path,omitempty"`
	// Enum lists the allowed values for int parameters.
	Enum []int `json:"enum,omitempty"`
	// Min/Max bound float parameters to a closed interval.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// Default is applied at run time, never during validation.
	Default any `json:"default,omitempty"`
}

// Result is what an operation produces on success.
type Result struct {
	Payload     map[string]any `json:"payload"`
	OutputFiles []string       `json:"output_files"`
}

// Operation is one named analysis function.
type Operation interface {
	Name() string
	Description() string
	Params() []ParamSpec
	// Run executes the operation. It must be deterministic for a given
	// argument set and must confine all file writes to outputDir.
	Run(ctx context.Context, args map[string]any, outputDir string) (*Result, error)
}

// Registry holds the known operations.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry returns a registry with the built-in operations registered.
func NewRegistry() *Registry {
	r := &Registry{ops: map[string]Operation{}}
	r.Register(pnearOperation{})
	r.Register(sequenceOperation{})
	r.Register(paramsOperation{})
	return r
}

func (r *Registry) Register(op Operation) {
	r.ops[op.Name()] = op
}

func (r *Registry) Get(name string) (Operation, error) {
	op, ok := r.ops[strings.TrimSpace(name)]
	if !ok {
		return nil, apperrors.NotFound("unknown operation: %s", name)
	}
	return op, nil
}

// Names returns registered operation names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks args against the operation's parameter schema. It is pure
// apart from probing that input-path parameters exist and are readable.
// It never mutates args and never creates state.
func (r *Registry) Validate(name string, args map[string]any) error {
	op, err := r.Get(name)
	if err != nil {
		return err
	}

	specs := op.Params()
	byName := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	for key := range args {
		if _, ok := byName[key]; !ok {
			return apperrors.InvalidArgument(key, "operation %s does not accept this parameter", name)
		}
	}

	for _, spec := range specs {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				return apperrors.InvalidArgument(spec.Name, "required parameter is missing")
			}
			continue
		}
		if err := validateValue(spec, value); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs an operation end to end, returning its payload and the files
// it wrote under outputDir.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, outputDir string) (map[string]any, []string, error) {
	op, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	res, err := op.Run(ctx, args, outputDir)
	if err != nil {
		return nil, nil, err
	}
	return res.Payload, res.OutputFiles, nil
}

func validateValue(spec ParamSpec, value any) error {
	switch spec.Kind {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return apperrors.InvalidArgument(spec.Name, "expected a string, got %T", value)
		}
		if spec.InputPath {
			return checkReadableFile(spec.Name, s)
		}
	case ParamFloat:
		f, ok := asFloat(value)
		if !ok {
			return apperrors.InvalidArgument(spec.Name, "expected a number, got %T", value)
		}
		if spec.Min != nil && f < *spec.Min {
			return apperrors.InvalidArgument(spec.Name, "must be >= %g, got %g", *spec.Min, f)
		}
		if spec.Max != nil && f > *spec.Max {
			return apperrors.InvalidArgument(spec.Name, "must be <= %g, got %g", *spec.Max, f)
		}
	case ParamInt:
		n, ok := asInt(value)
		if !ok {
			return apperrors.InvalidArgument(spec.Name, "expected an integer, got %v", value)
		}
		if len(spec.Enum) > 0 && !containsInt(spec.Enum, n) {
			return apperrors.InvalidArgument(spec.Name, "must be one of %v, got %d", spec.Enum, n)
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return apperrors.InvalidArgument(spec.Name, "expected a boolean, got %T", value)
		}
	case ParamIntList:
		ns, ok := asIntList(value)
		if !ok {
			return apperrors.InvalidArgument(spec.Name, "expected a list of integers, got %T", value)
		}
		if len(spec.Enum) > 0 {
			for _, n := range ns {
				if !containsInt(spec.Enum, n) {
					return apperrors.InvalidArgument(spec.Name, "must contain only %v, got %d", spec.Enum, n)
				}
			}
		}
	default:
		return apperrors.InvalidArgument(spec.Name, "unsupported parameter kind %q", spec.Kind)
	}
	return nil
}

func checkReadableFile(param, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return apperrors.InvalidArgument(param, "path must not be empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.InvalidArgument(param, "input file not found: %s", path)
	}
	if info.IsDir() {
		return apperrors.InvalidArgument(param, "path is a directory, not a file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return apperrors.InvalidArgument(param, "input file is not readable: %s", path)
	}
	_ = f.Close()
	return nil
}

// asFloat accepts the numeric shapes JSON decoding and CLI parsing produce.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// asInt accepts integral floats since JSON numbers always decode as float64.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func asIntList(value any) ([]int, bool) {
	switch v := value.(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, ok := asInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func floatPtr(f float64) *float64 { return &f }

// ensureOutputDir validates and creates the operation's output directory.
func ensureOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output dir is empty")
	}
	return os.MkdirAll(dir, 0755)
}
