package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.Mutex
)

type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters represents the flattened contract used in tool declarations
	Parameters *jsonschema.Schema
}

// New creates a new schema from the given type
func New(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, errors.New("schema: nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	s := buildSchema(t)
	cache[t] = s

	return s, nil
}

// For returns the schema of T
func For[T any]() (*Schema, error) {
	return New(reflect.TypeFor[T]())
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

func buildSchema(t reflect.Type) *Schema {
	raw := JSONSchema(t)
	return &Schema{
		RawSchema:  raw,
		Parameters: ToFunctionSchema(raw),
	}
}

// ToFunctionSchema returns the schema without JSON-schema document metadata,
// with local $defs references resolved in place.
func ToFunctionSchema(tSchema *jsonschema.Schema) *jsonschema.Schema {
	refID := strings.TrimPrefix(tSchema.Ref, "#/$defs/")

	defs := make(map[string]*jsonschema.Schema)
	root := tSchema
	for name, def := range tSchema.Definitions {
		if name == refID {
			root = def
		} else {
			defs[name] = def
		}
	}

	res := &jsonschema.Schema{
		Type:        root.Type,
		Description: root.Description,
		Properties:  root.Properties,
		Required:    root.Required,
		Items:       root.Items,
		Enum:        root.Enum,
	}

	resolveRefs(res.Properties, defs)
	if res.Items != nil {
		res.Items = resolveRef(res.Items, defs)
	}

	return res
}

func resolveRef(s *jsonschema.Schema, defs map[string]*jsonschema.Schema) *jsonschema.Schema {
	if s.Ref == "" {
		return s
	}
	name := strings.TrimPrefix(s.Ref, "#/$defs/")
	if def, ok := defs[name]; ok {
		return def
	}
	// unresolved references degrade to an untyped object
	return &jsonschema.Schema{
		Type:        "object",
		Description: s.Description,
	}
}

func resolveRefs(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs map[string]*jsonschema.Schema) {
	if props == nil {
		return
	}
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value = resolveRef(pair.Value, defs)
		child := pair.Value
		if child.Properties != nil {
			resolveRefs(child.Properties, defs)
		}
		if child.Items != nil {
			child.Items = resolveRef(child.Items, defs)
			resolveRefs(child.Items.Properties, defs)
		}
	}
}

// JSONSchema return the json schema of the type
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.AllowAdditionalProperties = true

	// The Struct name could be same, but the package name is different,
	// this would cause the `$ref` to point to the wrong definition.
	// See: https://github.com/invopop/jsonschema/issues/42
	r.Namer = func(t reflect.Type) string {
		name := t.Name()
		if t.Kind() == reflect.Struct {
			fullname := t.PkgPath() + "/" + t.Name()
			name = t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(fullname), 10)
		}
		return name
	}

	return r.ReflectFromType(t)
}

// FromAny creates a json schema from any JSON-compatible value,
// for example a decoded `inputSchema` of a remote tool:
//
//	map[string]any{
//		"type": "object",
//		"properties": map[string]any{
//			"query": map[string]any{
//				"type": "string",
//			},
//		},
//	}
func FromAny(t any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}
	return Parse(js)
}

// Parse decodes a JSON schema document
func Parse(js []byte) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{}
	if err := json.Unmarshal(js, s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schema")
	}
	return s, nil
}

// Object returns an empty object schema that accepts any properties
func Object() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
}

// PropertiesMap returns the top level properties as a plain map,
// the format expected by most vendor SDKs.
func PropertiesMap(s *jsonschema.Schema) map[string]any {
	props := make(map[string]any)
	if s == nil || s.Properties == nil {
		return props
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = pair.Value
	}
	return props
}

// ToMap returns the schema as a plain JSON object.
// Object schemas always carry properties, as required by some vendors.
func ToMap(s *jsonschema.Schema) (map[string]any, error) {
	res := map[string]any{}
	if s != nil {
		js, err := json.Marshal(s)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal schema")
		}
		if err = json.Unmarshal(js, &res); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal schema")
		}
	}
	if _, ok := res["type"]; !ok {
		res["type"] = "object"
	}
	if res["type"] == "object" {
		if _, ok := res["properties"]; !ok {
			res["properties"] = map[string]any{}
		}
	}
	return res, nil
}
