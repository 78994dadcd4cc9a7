package schema

import (
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name     string  `json:"name" jsonschema:"description=Name to greet"`
	Times    int     `json:"times,omitempty" jsonschema:"default=1"`
	Shout    bool    `json:"shout,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

func TestReflect(t *testing.T) {
	shape, err := Reflect[greetArgs]()
	require.NoError(t, err)
	require.Len(t, shape, 4)

	require.Equal(t, Field{Name: "name", Type: String, Required: true, Description: "Name to greet"}, shape[0])
	require.Equal(t, "times", shape[1].Name)
	require.Equal(t, Integer, shape[1].Type)
	require.False(t, shape[1].Required)
	require.Equal(t, int64(1), shape[1].Default)
	require.Equal(t, Boolean, shape[2].Type)
	require.Equal(t, Number, shape[3].Type)
}

func TestReflectEmptyStruct(t *testing.T) {
	shape, err := Reflect[struct{}]()
	require.NoError(t, err)
	require.Empty(t, shape)
	require.Equal(t, "object", shape.InputSchema().Type)
}

func TestReflectNoArgumentTypes(t *testing.T) {
	type noArgs struct{}
	for name, reflect := range map[string]func() (Shape, error){
		"anonymous": Reflect[struct{}],
		"named":     Reflect[noArgs],
	} {
		t.Run(name, func(t *testing.T) {
			var shape Shape
			var err error
			require.NotPanics(t, func() { shape, err = reflect() })
			require.NoError(t, err)
			require.Empty(t, shape)
		})
	}
}

func TestReflectNumericDefaults(t *testing.T) {
	type tuning struct {
		Retries int     `json:"retries,omitempty" jsonschema:"default=3"`
		Ratio   float64 `json:"ratio,omitempty" jsonschema:"default=0.5"`
		Scale   float64 `json:"scale,omitempty" jsonschema:"default=2"`
	}
	shape, err := Reflect[tuning]()
	require.NoError(t, err)
	require.Len(t, shape, 3)
	require.Equal(t, int64(3), shape[0].Default)
	require.Equal(t, 0.5, shape[1].Default)
	require.Equal(t, 2.0, shape[2].Default)

	args, err := Validate(shape, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, int64(3), args.Int("retries"))
	require.Equal(t, 0.5, args.Float("ratio"))
}

func TestReflectRejectsNestedTypes(t *testing.T) {
	type nested struct {
		Tags []string `json:"tags"`
	}
	_, err := Reflect[nested]()
	require.Error(t, err)
	require.Panics(t, func() { MustReflect[nested]() })
}

func TestPromptArguments(t *testing.T) {
	args := MustReflect[greetArgs]().PromptArguments()
	require.Len(t, args, 4)
	require.Equal(t, "name", args[0].Name)
	require.True(t, args[0].Required)
	require.Equal(t, "Name to greet", args[0].Description)
}

// The rendered input schema must be a valid JSON Schema that agrees with
// Validate on which documents are acceptable.
func TestInputSchemaAgreesWithJSONSchema(t *testing.T) {
	shape := MustReflect[greetArgs]()
	b, err := json.Marshal(shape.InputSchema())
	require.NoError(t, err)

	var js jsonschema.Schema
	require.NoError(t, json.Unmarshal(b, &js))
	resolved, err := js.Resolve(nil)
	require.NoError(t, err)

	docs := []string{
		`{"name":"Ada"}`,
		`{"name":"Ada","times":3,"shout":true,"strength":0.5}`,
		`{"name":"Ada","extra":1}`,
		`{}`,
		`{"name":7}`,
		`{"name":"Ada","times":"3"}`,
		`{"name":"Ada","shout":"yes"}`,
		`{"name":null}`,
	}
	for _, doc := range docs {
		var instance map[string]any
		require.NoError(t, json.Unmarshal([]byte(doc), &instance))

		_, verr := Validate(shape, json.RawMessage(doc))
		serr := resolved.Validate(instance)
		require.Equal(t, verr == nil, serr == nil, "disagreement on %s: validator=%v jsonschema=%v", doc, verr, serr)
	}
}
