// Package tool provides the tool execution surface: a typed registry of tools
// the model can call mid-stream and the built-in file, shell, search,
// interaction and todo tools.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var (
	// ErrToolNotFound is returned when the model calls a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments is returned when tool arguments fail to decode or validate.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Tool is a capability the model can invoke.
type Tool interface {
	// Name returns the identifier the model uses to call the tool.
	Name() string

	// Description returns the tool description shown to the model.
	Description() string

	// Info returns the eino tool definition.
	Info() *schema.ToolInfo

	// Execute decodes args and runs the tool.
	Execute(ctx context.Context, call Call, args string) (Result, error)
}

// Call carries the per-invocation context handed to tools.
type Call struct {
	SessionID string
	MessageID string
	CallID    string
	WorkDir   string

	// StopCh is closed when the service is shutting down. Aborting a stream
	// does not close it: a running call finishes and its result is dropped.
	StopCh <-chan struct{}
}

// Stopped reports whether the service is shutting down.
func (c Call) Stopped() bool {
	if c.StopCh == nil {
		return false
	}
	select {
	case <-c.StopCh:
		return true
	default:
		return false
	}
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Handler runs a tool with decoded, validated input.
type Handler[In any] func(ctx context.Context, call Call, in In) (Result, error)

type typedTool[In any] struct {
	name        string
	description string
	info        *schema.ToolInfo
	handler     Handler[In]
}

var (
	reflector = &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}

	validate = newValidator()
)

// Define builds a Tool whose parameter schema is reflected from In. Field
// names come from json tags, descriptions from jsonschema_description tags
// and constraints from validate tags. Fields without omitempty are required.
func Define[In any](name, description string, handler Handler[In]) Tool {
	var zero In
	params := toParams(reflector.Reflect(&zero))

	return &typedTool[In]{
		name:        name,
		description: description,
		info: &schema.ToolInfo{
			Name:        name,
			Desc:        description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		},
		handler: handler,
	}
}

func (t *typedTool[In]) Name() string           { return t.name }
func (t *typedTool[In]) Description() string    { return t.description }
func (t *typedTool[In]) Info() *schema.ToolInfo { return t.info }

func (t *typedTool[In]) Execute(ctx context.Context, call Call, args string) (Result, error) {
	var in In
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}
	if reflect.TypeOf(&in).Elem().Kind() == reflect.Struct {
		if err := validate.StructCtx(ctx, &in); err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrInvalidArguments, describeValidation(err))
		}
	}
	return t.handler(ctx, call, in)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s=%s", e.Namespace(), e.Tag(), e.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", e.Namespace(), e.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// toParams converts a reflected object schema into eino parameter infos.
func toParams(s *jsonschema.Schema) map[string]*schema.ParameterInfo {
	params := make(map[string]*schema.ParameterInfo)
	if s == nil || s.Properties == nil {
		return params
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		p := toParam(pair.Value)
		p.Required = required[pair.Key]
		params[pair.Key] = p
	}
	return params
}

func toParam(s *jsonschema.Schema) *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type: dataType(s.Type),
		Desc: s.Description,
	}
	for _, e := range s.Enum {
		p.Enum = append(p.Enum, fmt.Sprint(e))
	}

	switch p.Type {
	case schema.Array:
		if s.Items != nil {
			p.ElemInfo = toParam(s.Items)
		}
	case schema.Object:
		if s.Properties != nil {
			p.SubParams = toParams(s)
		}
	}
	return p
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
