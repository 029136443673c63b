package genaiutils

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/tools"
	"github.com/invopop/jsonschema"
	"google.golang.org/genai"
)

// ConvertTools converts the tools to a genai tool with function declarations.
// Returns nil if no tools are provided.
func ConvertTools(list []tools.Tool) ([]*genai.Tool, error) {
	if len(list) == 0 {
		return nil, nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(list))
	for i, tool := range list {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
		}

		if params := tool.Parameters(); params != nil {
			sc, err := ConvertJSONSchemaDefinition(params)
			if err != nil {
				return nil, errors.Wrapf(err, "tool [%d] %s", i, tool.Name())
			}
			// Gemini rejects object declarations without properties
			if sc.Type != genai.TypeObject || len(sc.Properties) > 0 {
				decl.Parameters = sc
			}
		}
		decls = append(decls, decl)
	}

	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// ConvertJSONSchemaDefinition converts a jsonschema.Schema to a genai.Schema.
func ConvertJSONSchemaDefinition(jschema *jsonschema.Schema) (*genai.Schema, error) {
	if jschema == nil {
		return nil, nil
	}

	schema := &genai.Schema{
		Type:        ConvertJSONSchemaType(jschema.Type),
		Description: jschema.Description,
		Required:    jschema.Required,
	}

	for _, e := range jschema.Enum {
		schema.Enum = append(schema.Enum, fmt.Sprint(e))
	}
	if len(schema.Enum) > 0 && schema.Type == genai.TypeString {
		schema.Format = "enum"
	}

	// Convert properties
	if jschema.Properties != nil {
		schema.Properties = make(map[string]*genai.Schema)
		for pair := jschema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			propSchema, err := ConvertJSONSchemaDefinition(pair.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "property [%s]", pair.Key)
			}
			schema.Properties[pair.Key] = propSchema
			schema.PropertyOrdering = append(schema.PropertyOrdering, pair.Key)
		}
	}

	// Convert items for array types
	if jschema.Items != nil {
		itemsSchema, err := ConvertJSONSchemaDefinition(jschema.Items)
		if err != nil {
			return nil, errors.Wrap(err, "items")
		}
		schema.Items = itemsSchema
	} else if schema.Type == genai.TypeArray {
		return nil, errors.New("array schema must define items")
	}

	for i, alt := range append(jschema.AnyOf, jschema.OneOf...) {
		altSchema, err := ConvertJSONSchemaDefinition(alt)
		if err != nil {
			return nil, errors.Wrapf(err, "anyOf [%d]", i)
		}
		schema.AnyOf = append(schema.AnyOf, altSchema)
	}

	return schema, nil
}

// ConvertJSONSchemaType converts a jsonschema.DataType to a genai.Type.
func ConvertJSONSchemaType(dt string) genai.Type {
	switch dt {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

func Float32Ptr(f float32) *float32 {
	return &f
}
