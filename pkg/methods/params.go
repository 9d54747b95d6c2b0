package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/result"
)

const paramsLogPrefix = "methods:params"

var printer = message.NewPrinter(language.English)

// paramsSchema is a compiled params schema together with the declared type of
// each top-level property, used to coerce query-string values.
type paramsSchema struct {
	name   string
	doc    map[string]any
	schema *jsonschema.Schema
	types  map[string]string
}

func mustCompileSchema(name, raw string) *paramsSchema {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("%s - failed to parse schema %s: %v", paramsLogPrefix, name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("%s - failed to add schema %s: %v", paramsLogPrefix, name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("%s - failed to compile schema %s: %v", paramsLogPrefix, name, err))
	}

	types := map[string]string{}
	props, _ := doc["properties"].(map[string]any)
	for key, p := range props {
		prop, _ := p.(map[string]any)
		switch t := prop["type"].(type) {
		case string:
			types[key] = t
		case []any:
			// ["string", "null"] and the like: coerce to the first type.
			if len(t) > 0 {
				types[key], _ = t[0].(string)
			}
		}
	}
	return &paramsSchema{name: name, doc: doc, schema: sch, types: types}
}

// handler validates the call params against the schema. String values are
// first converted to the declared number, boolean or array type, since
// query-string params always arrive as strings.
func (ps *paramsSchema) handler() api.Handler {
	return api.Named("validateParams", func(_ context.Context, _ *api.MethodContext, params api.Params, _ *result.Result) error {
		coerceParams(params, ps.types)
		if err := ps.schema.Validate(map[string]any(params)); err != nil {
			return apierrors.InvalidParametersFormat("The parameters' format is invalid.", schemaErrors(err))
		}
		return nil
	})
}

// coerceParams converts string values in place to the types of their property.
// Values that cannot be converted are left alone for the schema to reject.
func coerceParams(params api.Params, types map[string]string) {
	for key, value := range params {
		switch v := value.(type) {
		case string:
			params[key] = coerceString(v, types[key])
		case []string:
			items := make([]any, len(v))
			for i, s := range v {
				items[i] = s
			}
			if types[key] == "array" {
				params[key] = items
			} else if len(v) == 1 {
				params[key] = coerceString(v[0], types[key])
			}
		}
	}
}

func coerceString(s, typ string) any {
	switch typ {
	case "number":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "integer":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(n)
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case "array":
		return []any{s}
	case "null":
		if s == "null" {
			return nil
		}
	}
	return s
}

// schemaErrors flattens a validation error into "path: message" lines.
func schemaErrors(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	collectSchemaErrors(ve, &out)
	return out
}

func collectSchemaErrors(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, out)
	}
}

// decodeParams copies validated params into a typed struct.
func decodeParams(params api.Params, out any) error {
	if err := mapstructure.Decode(map[string]any(params), out); err != nil {
		return apierrors.InvalidParametersFormat("The parameters' format is invalid.", []string{err.Error()})
	}
	return nil
}
