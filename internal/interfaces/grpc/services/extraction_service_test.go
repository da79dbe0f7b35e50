package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/EpiExtract/internal/intelligence/incident"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Extract(ctx context.Context, doc *epi.AnnotatedDocument) (*epi.ExtractionResult, error) {
	args := m.Called(ctx, doc)
	if r := args.Get(0); r != nil {
		return r.(*epi.ExtractionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) ExtractBatch(ctx context.Context, req *common.BatchRequest[*epi.AnnotatedDocument]) (*common.BatchResponse[*epi.ExtractionResult], error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*common.BatchResponse[*epi.ExtractionResult]), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) Resolve(ctx context.Context, doc *epi.AnnotatedDocument) ([]incident.ResolutionIncident, error) {
	args := m.Called(ctx, doc)
	if r := args.Get(0); r != nil {
		return r.([]incident.ResolutionIncident), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) Get(ctx context.Context, documentID string) (*epi.ExtractionResult, error) {
	args := m.Called(ctx, documentID)
	if r := args.Get(0); r != nil {
		return r.(*epi.ExtractionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) List(ctx context.Context, page common.Pagination) ([]epi.ExtractionSummary, int64, error) {
	args := m.Called(ctx, page)
	return args.Get(0).([]epi.ExtractionSummary), args.Get(1).(int64), args.Error(2)
}

func mustStruct(t *testing.T, v map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func TestExtractionService_Extract(t *testing.T) {
	svc := new(mockService)
	extractedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Extract", mock.Anything, mock.MatchedBy(func(d *epi.AnnotatedDocument) bool {
		return d.ID == "doc-1" && d.Text == "Two cases."
	})).Return(&epi.ExtractionResult{DocumentID: "doc-1", ExtractedAt: extractedAt, DurationMS: 4}, nil)

	out, err := NewExtractionService(svc, nil).Extract(context.Background(),
		mustStruct(t, map[string]interface{}{"id": "doc-1", "text": "Two cases."}))
	require.NoError(t, err)

	fields := out.GetFields()
	assert.Equal(t, "doc-1", fields["document_id"].GetStringValue())
	assert.Equal(t, float64(4), fields["duration_ms"].GetNumberValue())
	assert.Equal(t, "2024-03-01T00:00:00Z", fields["extracted_at"].GetStringValue())
	svc.AssertExpectations(t)
}

func TestExtractionService_ExtractInvalid(t *testing.T) {
	svc := new(mockService)
	_, err := NewExtractionService(svc, nil).Extract(context.Background(),
		mustStruct(t, map[string]interface{}{"id": "doc-1", "text": ""}))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentEmpty))
	svc.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestExtractionService_ExtractBatch(t *testing.T) {
	svc := new(mockService)
	svc.On("ExtractBatch", mock.Anything, mock.MatchedBy(func(r *common.BatchRequest[*epi.AnnotatedDocument]) bool {
		return len(r.Items) == 2 && r.StopOnError
	})).Return(&common.BatchResponse[*epi.ExtractionResult]{
		Succeeded:      []*epi.ExtractionResult{{DocumentID: "a"}},
		Failed:         []common.BatchError{{Index: 1}},
		TotalProcessed: 2,
	}, nil)

	out, err := NewExtractionService(svc, nil).ExtractBatch(context.Background(), mustStruct(t, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "a", "text": "one"},
			map[string]interface{}{"id": "b", "text": ""},
		},
		"stop_on_error": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), out.GetFields()["total_processed"].GetNumberValue())
	assert.Len(t, out.GetFields()["succeeded"].GetListValue().GetValues(), 1)
	svc.AssertExpectations(t)
}

func TestExtractionService_Resolve(t *testing.T) {
	cases := 12.0
	svc := new(mockService)
	svc.On("Resolve", mock.Anything, mock.Anything).Return([]incident.ResolutionIncident{{Cases: &cases}}, nil)

	out, err := NewExtractionService(svc, nil).Resolve(context.Background(),
		mustStruct(t, map[string]interface{}{"text": "12 cases"}))
	require.NoError(t, err)

	list := out.GetFields()["incidents"].GetListValue().GetValues()
	require.Len(t, list, 1)
	assert.Equal(t, 12.0, list[0].GetStructValue().GetFields()["cases"].GetNumberValue())
}

func TestExtractionService_Get(t *testing.T) {
	svc := new(mockService)
	svc.On("Get", mock.Anything, "doc-7").Return(&epi.ExtractionResult{DocumentID: "doc-7"}, nil)
	svc.On("Get", mock.Anything, "missing").Return(nil, errors.New(errors.ErrCodeExtractionNotFound, "extraction not found"))

	s := NewExtractionService(svc, nil)

	out, err := s.Get(context.Background(), mustStruct(t, map[string]interface{}{"document_id": "doc-7"}))
	require.NoError(t, err)
	assert.Equal(t, "doc-7", out.GetFields()["document_id"].GetStringValue())

	_, err = s.Get(context.Background(), mustStruct(t, map[string]interface{}{"document_id": "missing"}))
	assert.True(t, errors.IsNotFound(err))
}

func TestToStruct_RejectsNonObject(t *testing.T) {
	_, err := toStruct([]int{1, 2})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}
