package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Reply is the type-specific part of an agent response. Exactly one variant
// is decoded per response; anything unrecognized becomes a RAGReply.
type Reply interface {
	replyType() string
}

type ForecastReply struct {
	Interpretation  string
	ForecastDisplay string
	ConfidenceLevel string
	DataPointsUsed  float64
	// DualForecast is nil when the agent did not send an object.
	DualForecast map[string]any
}

type ScenarioReply struct {
	LLMAnalysis *string
}

type ComparativeReply struct {
	Response *string
}

// RAGReply covers the default branch. Type keeps the discriminator the agent
// sent (possibly empty) for logging.
type RAGReply struct {
	Type     string
	Response *string
}

func (ForecastReply) replyType() string    { return "forecast" }
func (ScenarioReply) replyType() string    { return "scenario" }
func (ComparativeReply) replyType() string { return "comparative" }
func (r RAGReply) replyType() string {
	if r.Type == "" {
		return "rag"
	}
	return r.Type
}

// Extras are the optional fields any reply type may carry.
type Extras struct {
	GraphURL       string
	ThoughtProcess []string
	Followup       string
}

type Response struct {
	Reply  Reply
	Extras Extras
	// Raw is the body as received, kept for digesting.
	Raw json.RawMessage
}

func (r Response) Type() string {
	if r.Reply == nil {
		return "rag"
	}
	return r.Reply.replyType()
}

var errNotObject = errors.New("agent response is not a JSON object")

// ParseResponse decodes an agent reply. Optional fields with an unexpected
// JSON type are treated as absent rather than failing the whole run.
func ParseResponse(raw []byte) (Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Response{}, fmt.Errorf("%w: %v", errNotObject, err)
	}
	if fields == nil {
		return Response{}, errNotObject
	}
	f := rawFields(fields)

	resp := Response{Raw: append(json.RawMessage(nil), raw...)}
	typ := ""
	if v := f.str("type"); v != nil {
		typ = *v
	}
	switch typ {
	case "forecast":
		fr := ForecastReply{
			Interpretation:  f.strOr("interpretation", ""),
			ForecastDisplay: f.strOr("forecast_display", ""),
			ConfidenceLevel: f.strOr("confidence_level", "Unknown"),
			DualForecast:    f.object("dual_forecast"),
		}
		if n, ok := f.number("data_points_used"); ok {
			fr.DataPointsUsed = n
		}
		resp.Reply = fr
	case "scenario":
		resp.Reply = ScenarioReply{LLMAnalysis: f.str("llm_analysis")}
	case "comparative":
		resp.Reply = ComparativeReply{Response: f.str("response")}
	default:
		resp.Reply = RAGReply{Type: typ, Response: f.str("response")}
	}

	resp.Extras = Extras{
		GraphURL:       f.strOr("graph_url", ""),
		ThoughtProcess: f.strings("thought_process"),
		Followup:       f.strOr("followup", ""),
	}
	return resp, nil
}

type rawFields map[string]json.RawMessage

func (f rawFields) str(key string) *string {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return s
}

func (f rawFields) strOr(key, fallback string) string {
	if s := f.str(key); s != nil {
		return *s
	}
	return fallback
}

func (f rawFields) number(key string) (float64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	// Some agents send counts as strings.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (f rawFields) object(key string) map[string]any {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (f rawFields) strings(key string) []string {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case nil:
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out = append(out, string(b))
		}
	}
	return out
}
