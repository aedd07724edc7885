package pipeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"taskgraph/internal/domain"
)

//go:embed task.schema.json
var taskSchemaJSON string

const taskSchemaName = "task.schema.json"

var schemaPrinter = message.NewPrinter(language.English)

// fieldRank orders competing schema failures so the reported field is stable.
var fieldRank = map[string]int{"id": 0, "priority": 1, "dependencies": 2}

// ValidatedTask is the shape the graph stages work on. Description is not
// carried here; it is re-attached after cycle detection.
type ValidatedTask struct {
	ID           string
	Priority     domain.Priority
	Dependencies []string
}

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", taskSchemaName, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(taskSchemaName, schemaDoc); err != nil {
		return nil, fmt.Errorf("add %s resource: %w", taskSchemaName, err)
	}

	sch, err := compiler.Compile(taskSchemaName)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", taskSchemaName, err)
	}
	return &Validator{schema: sch}, nil
}

// MustNewValidator panics if the embedded schema does not compile.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks every record independently and stops at the first failure,
// which aborts the whole batch. Ids must be non-empty and unique in the batch.
func (v *Validator) Validate(raw []domain.RawTask) ([]ValidatedTask, error) {
	out := make([]ValidatedTask, 0, len(raw))
	seen := make(map[string]int, len(raw))

	for i, record := range raw {
		task, err := v.ValidateOne(i, record)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[task.ID]; dup {
			return nil, &domain.ValidationError{
				Index:  i,
				Field:  "id",
				Reason: fmt.Sprintf("duplicate id %q (first used by task %d)", task.ID, first),
			}
		}
		seen[task.ID] = i
		out = append(out, task)
	}
	return out, nil
}

// ValidateOne validates a single record; index is only used for error reporting.
func (v *Validator) ValidateOne(index int, record domain.RawTask) (ValidatedTask, error) {
	if record == nil {
		return ValidatedTask{}, &domain.ValidationError{Index: index, Field: "task", Reason: "record is not an object"}
	}

	instance := toJSONCompatible(map[string]any(record))
	if err := v.schema.Validate(instance); err != nil {
		return ValidatedTask{}, schemaFailure(index, record, err)
	}

	fields := instance.(map[string]any)
	task := ValidatedTask{
		ID:           fields["id"].(string),
		Priority:     domain.Priority(fields["priority"].(string)),
		Dependencies: []string{},
	}
	if deps, ok := fields["dependencies"].([]any); ok {
		for _, d := range deps {
			task.Dependencies = append(task.Dependencies, d.(string))
		}
	}
	return task, nil
}

func schemaFailure(index int, record domain.RawTask, err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &domain.ValidationError{Index: index, Field: "task", Reason: err.Error()}
	}

	var leaves []*jsonschema.ValidationError
	collectLeaves(ve, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool {
		return rankOf(leafField(leaves[i], record)) < rankOf(leafField(leaves[j], record))
	})

	leaf := leaves[0]
	return &domain.ValidationError{
		Index:  index,
		Field:  leafField(leaf, record),
		Reason: leaf.ErrorKind.LocalizedString(schemaPrinter),
	}
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]*jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, ve)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

// leafField names the top-level property a failure belongs to. Failures at
// the record root are "required" violations, so the first missing required
// field is reported.
func leafField(ve *jsonschema.ValidationError, record domain.RawTask) string {
	if len(ve.InstanceLocation) > 0 {
		return ve.InstanceLocation[0]
	}
	for _, name := range []string{"id", "priority"} {
		if _, ok := record[name]; !ok {
			return name
		}
	}
	return "task"
}

func rankOf(field string) int {
	if r, ok := fieldRank[field]; ok {
		return r
	}
	return len(fieldRank)
}

// toJSONCompatible rewrites typed slices and maps that a hand-built record may
// carry into the generic shapes the schema validator understands.
func toJSONCompatible(v any) any {
	switch val := v.(type) {
	case domain.RawTask:
		return toJSONCompatible(map[string]any(val))
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v2 := range val {
			result[k] = toJSONCompatible(v2)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v2 := range val {
			result[i] = toJSONCompatible(v2)
		}
		return result
	case []string:
		result := make([]any, len(val))
		for i, s := range val {
			result[i] = s
		}
		return result
	case domain.Priority:
		return string(val)
	case int:
		return json.Number(fmt.Sprint(val))
	default:
		return val
	}
}
