package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

const docJSON = `{
  "id": "cli-1",
  "text": "Three patients were infected.",
  "tokens": [
    {"start": 0,  "end": 5,  "text": "Three",    "lemma": "three",   "pos": "NUM",   "dep": "nummod",    "ent_type": "CARDINAL", "head": 1},
    {"start": 6,  "end": 14, "text": "patients", "lemma": "patient", "pos": "NOUN",  "dep": "nsubjpass", "head": 3},
    {"start": 15, "end": 19, "text": "were",     "lemma": "be",      "pos": "AUX",   "dep": "auxpass",   "head": 3},
    {"start": 20, "end": 28, "text": "infected", "lemma": "infect",  "pos": "VERB",  "dep": "ROOT",      "head": 3},
    {"start": 28, "end": 29, "text": ".",        "lemma": ".",       "pos": "PUNCT", "dep": "punct",     "head": 3}
  ],
  "sentences": [{"start": 0, "end": 29}],
  "noun_chunks": [{"start": 0, "end": 14}],
  "numbers": [{"start": 0, "end": 5, "number": 3}]
}`

const docYAML = `
id: cli-2
text: "Cases rose."
tokens:
  - {start: 0, end: 5, text: Cases, lemma: case, pos: NOUN, dep: nsubj, head: 1}
  - {start: 6, end: 10, text: rose, lemma: rise, pos: VERB, dep: ROOT, head: 1}
  - {start: 10, end: 11, text: ".", lemma: ".", pos: PUNCT, dep: punct, head: 1}
sentences:
  - {start: 0, end: 11}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "epiextract.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\nextraction:\n  store: none\n"), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "epiextract", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"annotate", "serve", "worker", "submit", "migrate", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestNewRootCommand_Flags(t *testing.T) {
	pf := NewRootCommand().PersistentFlags()

	cfg := pf.Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	out := pf.Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "o", out.Shorthand)
	assert.Equal(t, OutputJSON, out.DefValue)

	timeout := pf.Lookup("timeout")
	require.NotNil(t, timeout)
	assert.Equal(t, (30 * time.Second).String(), timeout.DefValue)

	verbose := pf.Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "false", verbose.DefValue)
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := NewMigrateCmd()
	names := make([]string, 0, 4)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "status", "force"}, names)

	down, _, err := cmd.Find([]string{"down"})
	require.NoError(t, err)
	assert.Equal(t, "1", down.Flags().Lookup("steps").DefValue)
}

func TestRoot_InvalidOutputFormat(t *testing.T) {
	_, err := runCLI(t, "", "-o", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
}

func TestVersionCmd_JSON(t *testing.T) {
	orig := Version
	Version = "1.2.3"
	defer func() { Version = orig }()

	out, err := runCLI(t, "", "version")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, GitCommit, info.Commit)
}

func TestAnnotate_StdinJSON(t *testing.T) {
	out, err := runCLI(t, docJSON, "annotate")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "cli-1", result["document_id"])
	assert.Contains(t, result, "infections")
	assert.Contains(t, result, "incidents")
}

func TestAnnotate_YAMLTable(t *testing.T) {
	out, err := runCLI(t, docYAML, "annotate", "--format", "yaml", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Document cli-2")
	assert.Contains(t, out, "infection(s)")
}

func TestAnnotate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(docJSON), 0o600))

	out, err := runCLI(t, "", "annotate", path, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "document_id: cli-1")
}

func TestAnnotate_Resolve(t *testing.T) {
	out, err := runCLI(t, docJSON, "annotate", "--resolve")
	require.NoError(t, err)

	var incidents []interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &incidents))
}

func TestAnnotate_EmptyDocument(t *testing.T) {
	_, err := runCLI(t, `{"id": "x", "text": ""}`, "annotate")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDocumentEmpty, errors.GetCode(err))
}

func TestReadDocument_Errors(t *testing.T) {
	_, err := readDocument(strings.NewReader(""), filepath.Join(t.TempDir(), "missing.json"), "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBadRequest, errors.GetCode(err))

	_, err = readDocument(strings.NewReader(docJSON), "-", "xml")
	require.Error(t, err)
}

func TestPrintResult_YAML(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, &CLIContext{
		OutputFormat: OutputYAML,
		Logger:       logging.NewNopLogger(),
	}))

	require.NoError(t, PrintResult(cmd, versionInfo{Version: "v", Commit: "c", BuildDate: "d"}))
	assert.Contains(t, out.String(), "version: v")
	assert.Contains(t, out.String(), "build_date: d")
}

func TestPrintResult_TableFallsBackToJSON(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, &CLIContext{OutputFormat: OutputTable}))

	require.NoError(t, PrintResult(cmd, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n": 1}`, out.String())
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestExtractionConfig(t *testing.T) {
	got := extractionConfig(config.ExtractionConfig{
		StrictOnly:        true,
		CompatibilityMode: true,
		MaxBatchSize:      7,
		Concurrency:       3,
		CacheTTL:          time.Minute,
	})
	assert.True(t, got.Options.StrictOnly)
	assert.False(t, got.Options.Debug)
	assert.True(t, got.Options.CompatibilityMode)
	assert.Equal(t, 7, got.MaxBatchSize)
	assert.Equal(t, 3, got.Concurrency)
	assert.Equal(t, time.Minute, got.CacheTTL)
}

func TestInfrastructure_NoComponents(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)

	infra, err := openInfrastructure(context.Background(), cfg, components{}, logging.NewNopLogger(), nil)
	require.NoError(t, err)
	defer infra.Close()

	assert.Empty(t, infra.healthCheckers())
	assert.Nil(t, infra.searcher())
	assert.NotNil(t, infra.newService())
}

func TestAnnotate_RemoteServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/extractions", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "epiextract-cli/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": {"document_id": "cli-1", "infections": [], "incidents": []}}`))
	}))
	defer server.Close()

	out, err := runCLI(t, docJSON, "annotate", "--server", server.URL, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "document_id: cli-1")
}
