package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"queryhub/internal/agent"
)

type probeArtifact struct {
	Position int            `json:"position"`
	Type     string         `json:"artifact_type"`
	Title    string         `json:"title"`
	Data     map[string]any `json:"data"`
}

type probeResult struct {
	ResponseType string          `json:"response_type"`
	Digest       string          `json:"response_digest"`
	FinalOutput  string          `json:"final_output"`
	Artifacts    []probeArtifact `json:"artifacts"`
}

func main() {
	var (
		agentURL = flag.String("url", strings.TrimSpace(os.Getenv("QUERYHUB_AGENT_URL")), "Agent endpoint URL")
		query    = flag.String("query", "", "Query to send to the agent")
		filePath = flag.String("file", "", "Interpret a saved agent response instead of calling the agent ('-' for stdin)")
		timeout  = flag.Duration("timeout", agent.DefaultTimeout, "Agent call timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" && strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "missing -query or -file")
		os.Exit(2)
	}

	var (
		resp agent.Response
		err  error
	)
	if strings.TrimSpace(*filePath) != "" {
		resp, err = readResponseFile(*filePath)
	} else {
		resp, err = dispatch(*agentURL, *query, *timeout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "probe failed:", err)
		os.Exit(1)
	}

	res, err := interpret(resp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "interpret failed:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(os.Stderr, "write result:", err)
		os.Exit(1)
	}
}

func dispatch(url, query string, timeout time.Duration) (agent.Response, error) {
	if strings.TrimSpace(url) == "" {
		return agent.Response{}, errors.New("missing -url or QUERYHUB_AGENT_URL")
	}
	d, err := agent.NewDispatcher(agent.DispatcherConfig{URL: url, Timeout: timeout})
	if err != nil {
		return agent.Response{}, err
	}
	return d.Dispatch(context.Background(), query)
}

func readResponseFile(path string) (agent.Response, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return agent.Response{}, err
	}
	return agent.ParseResponse(b)
}

func interpret(resp agent.Response) (probeResult, error) {
	digest, err := agent.Digest(resp.Raw)
	if err != nil {
		return probeResult{}, fmt.Errorf("digest: %w", err)
	}
	output, drafts := agent.Interpret(resp)
	res := probeResult{
		ResponseType: resp.Type(),
		Digest:       digest,
		FinalOutput:  output,
		Artifacts:    make([]probeArtifact, 0, len(drafts)),
	}
	for i, d := range drafts {
		res.Artifacts = append(res.Artifacts, probeArtifact{Position: i, Type: string(d.Type), Title: d.Title, Data: d.Data})
	}
	return res, nil
}
