package artifact

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeValid(t *testing.T) {
	for _, tt := range []Type{TypeChart, TypeTable, TypeText, TypeList, TypeLink, TypeJSON, TypePDFReport} {
		assert.True(t, tt.Valid(), tt)
	}
	assert.False(t, Type("video").Valid())
	assert.False(t, Type("").Valid())
}

func TestBuildersValidate(t *testing.T) {
	drafts := []Draft{
		Link("Graph", "http://x"),
		List("Thought Process", []string{"a", "b"}),
		Text("Follow-up Suggestion", "ask again"),
		JSON("Detailed Forecast Data", map[string]any{"k": 1}),
		Chart("Sales", "line", []any{"2024", "2025"}, []any{100, 110}),
		Table("Top", []string{"name", "v"}, [][]any{{"a", 1}}),
	}
	for _, d := range drafts {
		require.NoError(t, d.Validate(), d.Type)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Draft{
		"unknown type": {Type: "video", Data: map[string]any{}},
		"nil data":     {Type: TypeText},
		"empty url":    Link("x", "  "),
		"list shape":   {Type: TypeList, Data: map[string]any{"steps": "one"}},
		"table rows":   {Type: TypeTable, Data: map[string]any{"columns": []any{"a"}}},
		"chart y":      {Type: TypeChart, Data: map[string]any{"x": []any{1}}},
	}
	for name, d := range cases {
		err := d.Validate()
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrInvalid), name)
	}
}

func TestListPreservesStepOrder(t *testing.T) {
	d := List("Thought Process", []string{"step1", "step2", "step3"})
	assert.Equal(t, []any{"step1", "step2", "step3"}, d.Data["steps"])
}
