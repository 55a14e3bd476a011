package agent

import (
	"strconv"
	"strings"

	"queryhub/internal/artifact"
)

const (
	noAnalysis = "No analysis available."
	noResponse = "No response available."

	titleDetailedForecast = "Detailed Forecast Data"
	titleGraph            = "Graph"
	titleThoughtProcess   = "Thought Process"
	titleFollowup         = "Follow-up Suggestion"
)

// Interpret maps a reply to the run's final text and its artifacts.
// Artifact order is part of the contract: the type-specific artifact first,
// then link, list and follow-up.
func Interpret(resp Response) (string, []artifact.Draft) {
	var (
		out    string
		drafts []artifact.Draft
	)

	switch r := resp.Reply.(type) {
	case ForecastReply:
		out = formatForecast(r)
		if r.DualForecast != nil {
			drafts = append(drafts, artifact.JSON(titleDetailedForecast, r.DualForecast))
		}
	case ScenarioReply:
		out = deref(r.LLMAnalysis, noAnalysis)
	case ComparativeReply:
		out = deref(r.Response, noResponse)
	case RAGReply:
		out = deref(r.Response, noResponse)
	default:
		out = noResponse
	}

	// Blank extras count as absent.
	x := resp.Extras
	if url := strings.TrimSpace(x.GraphURL); url != "" {
		drafts = append(drafts, artifact.Link(titleGraph, url))
	}
	if len(x.ThoughtProcess) > 0 {
		drafts = append(drafts, artifact.List(titleThoughtProcess, x.ThoughtProcess))
	}
	if followup := strings.TrimSpace(x.Followup); followup != "" {
		drafts = append(drafts, artifact.Text(titleFollowup, followup))
	}
	return out, drafts
}

func formatForecast(r ForecastReply) string {
	var b strings.Builder
	b.WriteString(r.Interpretation)
	b.WriteString("\n\nFORECAST SUMMARY:\n")
	b.WriteString(r.ForecastDisplay)
	b.WriteString("\nConfidence Level: ")
	b.WriteString(r.ConfidenceLevel)
	b.WriteString(" (")
	b.WriteString(formatCount(r.DataPointsUsed))
	b.WriteString(" data points used)")
	return b.String()
}

func formatCount(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
