package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/invopop/jsonschema"
)

// RunFunc is the implementation of a typed tool
type RunFunc[I any, O any] func(ctx context.Context, input *I) (O, error)

// Typed is a tool with the contracts reflected from Go types
type Typed[I any, O any] struct {
	name        string
	description string
	params      *jsonschema.Schema
	output      *jsonschema.Schema
	run         RunFunc[I, O]
}

var _ Tool = (*Typed[struct{}, string])(nil)

// New returns a tool that decodes arguments into I and returns O.
func New[I any, O any](name, description string, run func(ctx context.Context, input *I) (O, error)) (*Typed[I, O], error) {
	if name == "" {
		return nil, errors.New("tool name is empty")
	}
	if run == nil {
		return nil, errors.Newf("tool %q: run function is nil", name)
	}
	in, err := schema.For[I]()
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %q: failed to create input schema", name)
	}
	out, err := schema.For[O]()
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %q: failed to create output schema", name)
	}

	return &Typed[I, O]{
		name:        name,
		description: description,
		params:      in.Parameters,
		output:      out.Parameters,
		run:         run,
	}, nil
}

func (t *Typed[I, O]) Name() string {
	return t.name
}

func (t *Typed[I, O]) Description() string {
	return t.description
}

func (t *Typed[I, O]) Parameters() *jsonschema.Schema {
	return t.params
}

func (t *Typed[I, O]) Output() *jsonschema.Schema {
	return t.output
}

// Run executes the tool with typed input
func (t *Typed[I, O]) Run(ctx context.Context, input *I) (O, error) {
	return t.run(ctx, input)
}

func (t *Typed[I, O]) Call(ctx context.Context, args map[string]any) (any, error) {
	js, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal input")
	}

	input := new(I)
	if err = json.Unmarshal(js, input); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal input")
	}
	return t.run(ctx, input)
}
