package preannotated

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

const sampleJSON = `{
  "id": "doc-1",
  "text": "Three patients were infected in Côte .",
  "tokens": [
    {"start": 0,  "end": 5,  "text": "Three",    "lemma": "three",   "pos": "NUM",   "dep": "nummod", "ent_type": "CARDINAL", "head": 1},
    {"start": 6,  "end": 14, "text": "patients", "lemma": "patient", "pos": "NOUN",  "dep": "nsubjpass", "head": 3},
    {"start": 15, "end": 19, "text": "were",     "lemma": "be",      "pos": "AUX",   "dep": "auxpass", "head": 3},
    {"start": 20, "end": 28, "text": "infected", "lemma": "infect",  "pos": "VERB",  "dep": "ROOT", "head": 3},
    {"start": 29, "end": 31, "text": "in",       "lemma": "in",      "pos": "ADP",   "dep": "prep", "head": 3},
    {"start": 32, "end": 36, "text": "Côte",     "lemma": "Côte",    "pos": "PROPN", "dep": "pobj", "ent_type": "GPE", "head": 4},
    {"start": 37, "end": 38, "text": ".",        "lemma": ".",       "pos": "PUNCT", "dep": "punct", "head": 3}
  ],
  "sentences": [{"start": 0, "end": 38}],
  "noun_chunks": [{"start": 0, "end": 14}, {"start": 32, "end": 36}],
  "entities": [{"start": 0, "end": 5, "label": "CARDINAL"}, {"start": 32, "end": 36, "label": "GPE"}],
  "geonames": [{"start": 32, "end": 36, "geoname": {"geonameid": "2287781", "name": "Ivory Coast"}}],
  "dates": [],
  "numbers": [{"start": 0, "end": 5, "number": 3}],
  "resolved_keywords": [
    {"start": 6, "end": 14, "resolutions": [{"entity": {"id": "tsn:180092", "label": "Homo sapiens", "type": "species"}, "weight": 0.9}]}
  ],
  "tables": []
}`

const sampleYAML = `
id: doc-2
text: "Cases: 12 on 2024-01-01"
tokens:
  - {start: 0, end: 5, text: Cases, lemma: case, pos: NOUN, dep: ROOT, head: 0}
dates:
  - start: 13
    end: 23
    datetime_range: ["2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"]
numbers:
  - {start: 7, end: 9, number: 12}
tables:
  - start: 0
    end: 9
    rows:
      - [{start: 0, end: 6}, {start: 7, end: 9}]
`

// ─────────────────────────────────────────────────────────────────────────────
// Decoding
// ─────────────────────────────────────────────────────────────────────────────

func TestDecode_JSON(t *testing.T) {
	src, err := Decode([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", src.ID)
	assert.Len(t, src.Tokens, 7)
	assert.Equal(t, "Ivory Coast", src.Geonames[0].Geoname["name"])
}

func TestDecode_YAML(t *testing.T) {
	src, err := Decode([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "doc-2", src.ID)
	require.Len(t, src.Dates, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), src.Dates[0].DatetimeRange[0].UTC())
	require.Len(t, src.Tables, 1)
	assert.Len(t, src.Tables[0].Rows[0], 2)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		data   string
		format Format
		code   errors.ErrorCode
	}{
		{"malformed json", `{"text": `, FormatJSON, errors.ErrCodeDocumentMalformed},
		{"empty text", `{"text": ""}`, FormatJSON, errors.ErrCodeDocumentEmpty},
		{"span past end", `{"text": "abc", "sentences": [{"start": 0, "end": 4}]}`, FormatJSON, errors.ErrCodeInvalidSpan},
		{"reversed span", `{"text": "abc", "entities": [{"start": 2, "end": 1, "label": "GPE"}]}`, FormatJSON, errors.ErrCodeInvalidSpan},
		{"head out of range", `{"text": "abc", "tokens": [{"start": 0, "end": 3, "head": 5}]}`, FormatJSON, errors.ErrCodeInvalidToken},
		{"one-sided date", `{"text": "abc", "dates": [{"start": 0, "end": 3, "datetime_range": ["2024-01-01T00:00:00Z"]}]}`, FormatJSON, errors.ErrCodeDocumentMalformed},
		{"bad cell", `{"text": "abc", "tables": [{"start": 0, "end": 3, "rows": [[{"start": 0, "end": 9}]]}]}`, FormatJSON, errors.ErrCodeInvalidSpan},
		{"unknown format", `{}`, Format("xml"), errors.ErrCodeUnsupportedFormat},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tc.data), tc.format)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestUnmarshal_BatchEnvelope(t *testing.T) {
	var req common.BatchRequest[*epi.AnnotatedDocument]
	data := "items:\n  - id: a\n    text: x\n  - id: b\n    text: \"\"\nstop_on_error: true\n"
	require.NoError(t, Unmarshal([]byte(data), FormatYAML, &req))
	require.Len(t, req.Items, 2)
	assert.True(t, req.StopOnError)
	assert.Equal(t, "b", req.Items[1].ID)
	assert.True(t, errors.IsCode(req.Items[1].Validate(), errors.ErrCodeDocumentEmpty))

	err := Unmarshal([]byte("{"), FormatJSON, &req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentMalformed))
}

func TestFormatDetection(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedFormat))

	assert.Equal(t, FormatYAML, FormatForPath("doc.yaml", nil))
	assert.Equal(t, FormatJSON, FormatForPath("doc.json", nil))
	assert.Equal(t, FormatJSON, FormatForPath("-", []byte("  {\"text\": \"x\"}")))
	assert.Equal(t, FormatYAML, FormatForPath("-", []byte("text: x")))
}

func TestEncode(t *testing.T) {
	data, err := Encode(map[string]int{"a": 1}, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))

	data, err = Encode(map[string]int{"a": 1}, FormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(data))
}

// ─────────────────────────────────────────────────────────────────────────────
// Tiers
// ─────────────────────────────────────────────────────────────────────────────

func TestNewDocument_ProducesInputTiers(t *testing.T) {
	src, err := Decode([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	doc, err := NewDocument(src)
	require.NoError(t, err)

	tiers, err := doc.RequireTiers(InputTiers...)
	require.NoError(t, err)
	for i, name := range InputTiers {
		assert.NotNil(t, tiers[i], name)
	}

	tokens := tiers[0]
	require.Equal(t, 7, tokens.Len())
	cote := tokens.At(5)
	assert.Equal(t, "Côte", doc.SpanText(cote))
	require.NotNil(t, cote.Metadata.Token)
	assert.Equal(t, "in", cote.Metadata.Token.Ancestors()[0].Text)

	nes := tiers[3]
	assert.Equal(t, 1, nes.WithLabel("GPE").Len())

	numbers := tiers[6]
	require.Equal(t, 1, numbers.Len())
	assert.Equal(t, 3.0, *numbers.At(0).Metadata.Number)

	keywords := tiers[7]
	require.Equal(t, 1, keywords.Len())
	assert.Equal(t, "species", keywords.At(0).Metadata.Resolutions[0].Entity.Type)
}

func TestNewDocument_Tables(t *testing.T) {
	src, err := Decode([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	doc, err := NewDocument(src)
	require.NoError(t, err)

	structured, err := doc.RequireTier(annotation.TierStructuredData)
	require.NoError(t, err)
	require.Equal(t, 1, structured.Len())
	table := structured.At(0)
	assert.Equal(t, TableTypeTable, table.Metadata.TableType)
	require.Len(t, table.Metadata.Rows, 1)
	assert.Equal(t, "12", doc.SpanText(table.Metadata.Rows[0][1]))

	dates, err := doc.RequireTier(annotation.TierDates)
	require.NoError(t, err)
	require.Equal(t, 1, dates.Len())
	assert.Equal(t, "2024-01-01", doc.SpanText(dates.At(0)))
}

func TestProducer_HeadCycle(t *testing.T) {
	src, err := Decode([]byte(`{"text": "a b", "tokens": [
		{"start": 0, "end": 1, "text": "a", "head": 1},
		{"start": 2, "end": 3, "text": "b", "head": 0}]}`), FormatJSON)
	require.NoError(t, err)
	doc, err := NewDocument(src)
	require.NoError(t, err)

	_, err = doc.RequireTier(annotation.TierTokens)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidToken))
}
