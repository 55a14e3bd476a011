package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioReply = `{"type":"scenario","llm_analysis":"If prices rise, demand falls.","graph_url":"http://g","followup":"Try a 10% increase?"}`

func TestInterpretSavedResponse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.json")
	require.NoError(t, os.WriteFile(path, []byte(scenarioReply), 0o600))

	resp, err := readResponseFile(path)
	require.NoError(t, err)
	res, err := interpret(resp)
	require.NoError(t, err)

	assert.Equal(t, "scenario", res.ResponseType)
	assert.Equal(t, "If prices rise, demand falls.", res.FinalOutput)
	assert.Len(t, res.Digest, 64)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, 0, res.Artifacts[0].Position)
	assert.Equal(t, "link", res.Artifacts[0].Type)
	assert.Equal(t, "text", res.Artifacts[1].Type)
}

func TestDispatchAgainstAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(scenarioReply))
	}))
	defer srv.Close()

	resp, err := dispatch(srv.URL, "what if prices rise", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "scenario", resp.Type())

	_, err = dispatch("", "q", time.Second)
	assert.Error(t, err)
}
