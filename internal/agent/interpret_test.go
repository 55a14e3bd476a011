package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryhub/internal/artifact"
)

func interpretJSON(t *testing.T, body string) (string, []artifact.Draft) {
	t.Helper()
	resp, err := ParseResponse([]byte(body))
	require.NoError(t, err)
	return Interpret(resp)
}

func TestInterpretComparative(t *testing.T) {
	out, drafts := interpretJSON(t, `{"type":"comparative","response":"X beats Y"}`)
	assert.Equal(t, "X beats Y", out)
	assert.Empty(t, drafts)
}

func TestInterpretForecast(t *testing.T) {
	out, drafts := interpretJSON(t, `{"type":"forecast","interpretation":"Rising trend","forecast_display":"2024:100\n2025:110","confidence_level":"High","data_points_used":12}`)
	assert.Equal(t, "Rising trend\n\nFORECAST SUMMARY:\n2024:100\n2025:110\nConfidence Level: High (12 data points used)", out)
	assert.Empty(t, drafts)
}

func TestInterpretForecastExtrasOrder(t *testing.T) {
	_, drafts := interpretJSON(t, `{"type":"forecast","interpretation":"Rising trend","forecast_display":"2024:100\n2025:110","confidence_level":"High","data_points_used":12,"graph_url":"http://x","thought_process":["step1","step2"]}`)
	require.Len(t, drafts, 2)
	assert.Equal(t, artifact.TypeLink, drafts[0].Type)
	assert.Equal(t, "http://x", drafts[0].Data["url"])
	assert.Equal(t, artifact.TypeList, drafts[1].Type)
	assert.Equal(t, []any{"step1", "step2"}, drafts[1].Data["steps"])
}

func TestInterpretDualForecastComesFirst(t *testing.T) {
	_, drafts := interpretJSON(t, `{"type":"forecast","dual_forecast":{"a":[1,2]},"followup":"Try monthly","graph_url":"http://g","thought_process":["s"]}`)
	require.Len(t, drafts, 4)
	assert.Equal(t, artifact.TypeJSON, drafts[0].Type)
	assert.Equal(t, "Detailed Forecast Data", drafts[0].Title)
	assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, drafts[0].Data)
	assert.Equal(t, artifact.TypeLink, drafts[1].Type)
	assert.Equal(t, artifact.TypeList, drafts[2].Type)
	assert.Equal(t, artifact.TypeText, drafts[3].Type)
	assert.Equal(t, "Follow-up Suggestion", drafts[3].Title)
	assert.Equal(t, "Try monthly", drafts[3].Data["text"])
}

func TestInterpretDefaults(t *testing.T) {
	out, _ := interpretJSON(t, `{"type":"scenario"}`)
	assert.Equal(t, noAnalysis, out)

	out, _ = interpretJSON(t, `{"type":"scenario","llm_analysis":"Scenario B wins"}`)
	assert.Equal(t, "Scenario B wins", out)

	out, _ = interpretJSON(t, `{"type":"comparative"}`)
	assert.Equal(t, noResponse, out)

	out, _ = interpretJSON(t, `{}`)
	assert.Equal(t, noResponse, out)

	out, _ = interpretJSON(t, `{"type":"mystery","response":"fallback text"}`)
	assert.Equal(t, "fallback text", out)
}

func TestInterpretIgnoresEmptyExtras(t *testing.T) {
	_, drafts := interpretJSON(t, `{"response":"ok","thought_process":[],"graph_url":"","followup":""}`)
	assert.Empty(t, drafts)
}

func TestInterpretIgnoresBlankExtras(t *testing.T) {
	out, drafts := interpretJSON(t, `{"type":"comparative","response":"X beats Y","graph_url":"  ","followup":"\n\t"}`)
	assert.Equal(t, "X beats Y", out)
	assert.Empty(t, drafts)

	_, drafts = interpretJSON(t, `{"response":"ok","graph_url":" http://g ","followup":" more? "}`)
	require.Len(t, drafts, 2)
	assert.Equal(t, artifact.Link(titleGraph, "http://g"), drafts[0])
	assert.Equal(t, artifact.Text(titleFollowup, "more?"), drafts[1])
	for _, d := range drafts {
		assert.NoError(t, d.Validate())
	}
}

func TestInterpretDeterministic(t *testing.T) {
	body := `{"type":"forecast","interpretation":"i","dual_forecast":{"x":1,"y":{"z":[1,2,3]}},"graph_url":"http://x","thought_process":["a","b"],"followup":"f"}`
	out1, d1 := interpretJSON(t, body)
	for i := 0; i < 5; i++ {
		out2, d2 := interpretJSON(t, body)
		assert.Equal(t, out1, out2)
		assert.Equal(t, d1, d2)
	}
}

func TestParseResponseLenientFields(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"type":"forecast","data_points_used":"7","confidence_level":null,"dual_forecast":[1,2],"graph_url":5}`))
	require.NoError(t, err)
	fr, ok := resp.Reply.(ForecastReply)
	require.True(t, ok)
	assert.Equal(t, float64(7), fr.DataPointsUsed)
	assert.Equal(t, "Unknown", fr.ConfidenceLevel)
	assert.Nil(t, fr.DualForecast)
	assert.Empty(t, resp.Extras.GraphURL)
	assert.Equal(t, "forecast", resp.Type())
}

func TestParseResponseRejectsNonObject(t *testing.T) {
	for _, body := range []string{`[1,2]`, `"text"`, `null`, `not json`} {
		_, err := ParseResponse([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestDigestIgnoresKeyOrder(t *testing.T) {
	a, err := Digest([]byte(`{"b":1,"a":"x"}`))
	require.NoError(t, err)
	b, err := Digest([]byte("{ \"a\": \"x\",\n \"b\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
