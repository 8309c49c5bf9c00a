package localstore

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"example.com/treniren/internal/domain"
)

//go:embed workout.schema.json
var workoutSchemaJSON string

const workoutSchemaURL = "workout.schema.json"

var (
	schemaOnce     sync.Once
	workoutSchema  *jsonschema.Schema
	workoutSchemaE error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workoutSchemaJSON))
		if err != nil {
			workoutSchemaE = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(workoutSchemaURL, doc); err != nil {
			workoutSchemaE = err
			return
		}
		workoutSchema, workoutSchemaE = c.Compile(workoutSchemaURL)
	})
	return workoutSchema, workoutSchemaE
}

// decodeResult carries the records that survived decoding and what was dropped.
type decodeResult struct {
	records []domain.Workout
	dropped []error
}

// decodeWorkouts parses a stored JSON array. Elements failing structural validation are
// dropped one by one; a value that is not an array at all is an error.
func decodeWorkouts(raw string) (decodeResult, error) {
	var res decodeResult
	if strings.TrimSpace(raw) == "" {
		return res, nil
	}

	schema, err := compiledSchema()
	if err != nil {
		return res, fmt.Errorf("compile workout schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return res, fmt.Errorf("corrupted JSON: %w", err)
	}
	if doc == nil {
		return res, nil
	}
	items, ok := doc.([]any)
	if !ok {
		return res, fmt.Errorf("corrupted JSON: expected array, got %T", doc)
	}

	res.records = make([]domain.Workout, 0, len(items))
	for i, item := range items {
		if err := schema.Validate(item); err != nil {
			res.dropped = append(res.dropped, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		body, err := json.Marshal(item)
		if err != nil {
			res.dropped = append(res.dropped, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		var w domain.Workout
		if err := json.Unmarshal(body, &w); err != nil {
			res.dropped = append(res.dropped, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		res.records = append(res.records, w)
	}
	return res, nil
}

func encodeWorkouts(records []domain.Workout) (string, error) {
	if records == nil {
		records = []domain.Workout{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// upsert removes any record carrying w.ID and appends w.
func upsert(records []domain.Workout, w domain.Workout) []domain.Workout {
	out := without(records, w.ID)
	return append(out, w)
}

func without(records []domain.Workout, id string) []domain.Workout {
	out := make([]domain.Workout, 0, len(records))
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func indexOf(records []domain.Workout, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
