package screens

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

//go:embed schema/screen-v1.json
var screenSchemaJSON string

// ErrInvalidScreen wraps every schema or reference violation.
var ErrInvalidScreen = errors.New("invalid screen")

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("screen-v1.json",
		strings.NewReader(screenSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("screen-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks JSON encoded screen data against the schema.
func (v *Validator) Validate(data []byte) error {
	var screen interface{}
	if err := json.Unmarshal(data, &screen); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidScreen, err)
	}

	if err := v.schema.Validate(screen); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrInvalidScreen, err)
	}

	return nil
}

func (v *Validator) ValidateDefinition(def *types.ScreenDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal screen: %w", err)
	}

	if err := v.Validate(data); err != nil {
		return err
	}
	if err := checkReferences(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScreen, err)
	}
	return nil
}

// checkReferences covers what the schema cannot express: known data types,
// byte/bit addressing for BOOL only, unique names and widgets pointing at
// declared variables.
func checkReferences(def *types.ScreenDefinition) error {
	vars := make(map[string]bool, len(def.Variables))
	for _, v := range def.Variables {
		if vars[v.Name] {
			return fmt.Errorf("duplicate variable %q", v.Name)
		}
		vars[v.Name] = true

		t, err := ads.ParseDataType(v.Type)
		if err != nil {
			return fmt.Errorf("variable %s: %v", v.Name, err)
		}
		if v.Byte != nil && !t.IsBool() {
			return fmt.Errorf("variable %s: byte/bit addressing requires BOOL, got %s", v.Name, t)
		}
	}

	widgets := make(map[string]bool, len(def.Widgets))
	for _, w := range def.Widgets {
		if widgets[w.ID] {
			return fmt.Errorf("duplicate widget %q", w.ID)
		}
		widgets[w.ID] = true
		if !vars[w.Variable] {
			return fmt.Errorf("widget %s references unknown variable %q", w.ID, w.Variable)
		}
	}
	return nil
}
