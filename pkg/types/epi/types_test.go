package epi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/EpiExtract/pkg/errors"
)

func TestAnnotatedDocument_Validate_CodePointOffsets(t *testing.T) {
	// 5 code points, 7 bytes
	doc := &AnnotatedDocument{
		Text:      "Ñandú",
		Sentences: []Offsets{{Start: 0, End: 5}},
	}
	assert.NoError(t, doc.Validate())

	doc.Sentences[0].End = 6
	err := doc.Validate()
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidSpan))
	assert.Contains(t, err.Error(), "sentences[0]")
}

func TestAnnotatedDocument_Validate_Nil(t *testing.T) {
	var doc *AnnotatedDocument
	assert.True(t, errors.IsCode(doc.Validate(), errors.ErrCodeDocumentEmpty))
}

func TestAnnotatedDocument_Validate_NegativeHead(t *testing.T) {
	doc := &AnnotatedDocument{
		Text:   "a",
		Tokens: []Token{{Start: 0, End: 1, Head: -1}},
	}
	assert.True(t, errors.IsCode(doc.Validate(), errors.ErrCodeInvalidToken))
}

func TestExtractionResult_Summary(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &ExtractionResult{
		DocumentID:  "d",
		Infections:  []Infection{{}, {}},
		Incidents:   []Incident{{}},
		ExtractedAt: at,
	}
	assert.Equal(t, ExtractionSummary{DocumentID: "d", InfectionCount: 2, IncidentCount: 1, ExtractedAt: at}, r.Summary())
}
