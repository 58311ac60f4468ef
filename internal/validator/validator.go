// Package validator checks request payload files against JSON schemas before
// they are sent to a node.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

//go:embed schemas/*.json
var builtinSchemas embed.FS

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Kind names a payload schema.
type Kind string

const (
	KindVMRun         Kind = "vm-run"
	KindProgramSubmit Kind = "program-submit"
	KindTaskCreate    Kind = "task-create"
	KindTaskUpdate    Kind = "task-update"
	KindPeerCommand   Kind = "peer-command"
)

// MaxProgramLength is the bytecode length above which a warning is raised.
const MaxProgramLength = 4096

type Options struct {
	// SchemaDir overrides builtin schemas with <kind>.json files when present.
	SchemaDir string
}

type Validator struct {
	schemas map[Kind]*gojsonschema.Schema
}

type Result struct {
	Kind        Kind          `json:"kind"`
	Valid       bool          `json:"valid"`
	Errors      []string      `json:"errors,omitempty"`
	Checks      []CheckResult `json:"checks,omitempty"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

type CheckResult struct {
	Name     string            `json:"name"`
	Status   Status            `json:"status"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func New(opts Options) (*Validator, error) {
	v := &Validator{schemas: map[Kind]*gojsonschema.Schema{}}
	entries, err := builtinSchemas.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, entry := range entries {
		kind := Kind(strings.TrimSuffix(entry.Name(), ".json"))
		data, err := builtinSchemas.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", kind, err)
		}
		if opts.SchemaDir != "" {
			override, err := os.ReadFile(filepath.Join(opts.SchemaDir, entry.Name()))
			switch {
			case err == nil:
				data = override
			case !os.IsNotExist(err):
				return nil, fmt.Errorf("failed to read schema override %s: %w", kind, err)
			}
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("invalid schema %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Kinds lists the known payload kinds.
func (v *Validator) Kinds() []Kind {
	kinds := make([]Kind, 0, len(v.schemas))
	for k := range v.schemas {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Validate checks a JSON or YAML payload against the schema for kind.
func (v *Validator) Validate(kind Kind, payload []byte) Result {
	result := Result{Kind: kind, Valid: true, GeneratedAt: time.Now()}

	schema, ok := v.schemas[kind]
	if !ok {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("unknown payload kind %q", kind))
		return result
	}

	raw, err := yaml.YAMLToJSON(payload)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("payload is not valid JSON or YAML: %v", err))
		return result
	}

	schemaResult, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("schema validation error: %v", err))
		return result
	}
	if !schemaResult.Valid() {
		result.Valid = false
		for _, e := range schemaResult.Errors() {
			result.Errors = append(result.Errors, e.String())
		}
		return result
	}

	switch kind {
	case KindVMRun:
		result.Checks = append(result.Checks, checkProgram(raw, "program"))
	case KindProgramSubmit:
		result.Checks = append(result.Checks, checkProgram(raw, "bytecode"))
	}
	for _, check := range result.Checks {
		if check.Status == StatusFail {
			result.Valid = false
			break
		}
	}
	return result
}

// Decode validates a payload and unmarshals it into out.
func (v *Validator) Decode(kind Kind, payload []byte, out any) (Result, error) {
	result := v.Validate(kind, payload)
	if !result.Valid {
		return result, &InvalidError{Result: result}
	}
	if err := yaml.Unmarshal(payload, out); err != nil {
		return result, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return result, nil
}

// DecodeFile reads path and decodes it like Decode.
func (v *Validator) DecodeFile(kind Kind, path string, out any) (Result, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Result{Kind: kind}, fmt.Errorf("failed to read payload file: %w", err)
	}
	return v.Decode(kind, data, out)
}

// InvalidError reports a payload that failed validation.
type InvalidError struct {
	Result Result
}

func (e *InvalidError) Error() string {
	if len(e.Result.Errors) == 0 {
		return fmt.Sprintf("invalid %s payload", e.Result.Kind)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Result.Kind, strings.Join(e.Result.Errors, "; "))
}

func checkProgram(raw []byte, field string) CheckResult {
	var doc map[string]json.RawMessage
	_ = json.Unmarshal(raw, &doc)
	var program []int
	_ = json.Unmarshal(doc[field], &program)

	meta := map[string]string{"length": fmt.Sprintf("%d", len(program))}
	if len(program) > MaxProgramLength {
		return CheckResult{
			Name:     "program-length",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%s has %d instructions; nodes may reject programs over %d", field, len(program), MaxProgramLength),
			Metadata: meta,
		}
	}
	return CheckResult{Name: "program-length", Status: StatusPass, Message: "program length within limits", Metadata: meta}
}
