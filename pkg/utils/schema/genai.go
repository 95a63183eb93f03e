package schema

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// For derives a Gemini response schema from the Go type T
func For[T any]() (*genai.Schema, error) {
	js, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer json schema")
	}
	return ToGenai(js)
}

// ToGenai converts a JSON Schema to genai.Schema. A "null" member of a type
// union becomes Nullable.
func ToGenai(js *jsonschema.Schema) (*genai.Schema, error) {
	if js == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: js.Description,
		Required:    js.Required,
	}

	types := js.Types
	if js.Type != "" {
		types = append(types, js.Type)
	}
	for _, t := range types {
		if t == "null" {
			out.Nullable = genai.Ptr(true)
			continue
		}
		if out.Type != "" {
			return nil, goerr.New("multiple non-null types are not supported", goerr.V("types", types))
		}
		typ, err := genaiType(t)
		if err != nil {
			return nil, err
		}
		out.Type = typ
	}

	for _, v := range js.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	if len(js.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(js.Properties))
		for name, prop := range js.Properties {
			converted, err := ToGenai(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if js.Items != nil {
		converted, err := ToGenai(js.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}

func genaiType(t string) (genai.Type, error) {
	switch t {
	case "object":
		return genai.TypeObject, nil
	case "string":
		return genai.TypeString, nil
	case "integer":
		return genai.TypeInteger, nil
	case "number":
		return genai.TypeNumber, nil
	case "boolean":
		return genai.TypeBoolean, nil
	case "array":
		return genai.TypeArray, nil
	default:
		return "", goerr.New("unsupported schema type", goerr.V("type", t))
	}
}
