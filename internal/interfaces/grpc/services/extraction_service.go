// Package services implements the gRPC services of EpiExtract. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP
// API, so no generated code is needed.
package services

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/intelligence/preannotated"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// ExtractionServiceName is the fully qualified gRPC service name.
const ExtractionServiceName = "epiextract.v1.Extraction"

// Full method names.
const (
	MethodExtract      = "/" + ExtractionServiceName + "/Extract"
	MethodExtractBatch = "/" + ExtractionServiceName + "/ExtractBatch"
	MethodResolve      = "/" + ExtractionServiceName + "/Resolve"
	MethodGet          = "/" + ExtractionServiceName + "/Get"
)

// SourceGRPC labels extractions requested over gRPC.
const SourceGRPC = "grpc"

// ExtractionServer is the server API of epiextract.v1.Extraction.
type ExtractionServer interface {
	// Extract takes an annotated document and returns its extraction result.
	Extract(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ExtractBatch takes {"items": [...], "stop_on_error": bool}.
	ExtractBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Resolve returns {"incidents": [...]} in resolution format.
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Get takes {"document_id": "..."} and returns the stored result.
	Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ExtractionServiceDesc describes epiextract.v1.Extraction for
// grpc.Server.RegisterService.
var ExtractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExtractionServiceName,
	HandlerType: (*ExtractionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: unaryHandler(MethodExtract, ExtractionServer.Extract)},
		{MethodName: "ExtractBatch", Handler: unaryHandler(MethodExtractBatch, ExtractionServer.ExtractBatch)},
		{MethodName: "Resolve", Handler: unaryHandler(MethodResolve, ExtractionServer.Resolve)},
		{MethodName: "Get", Handler: unaryHandler(MethodGet, ExtractionServer.Get)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "epiextract/v1/extraction.proto",
}

type structMethod func(ExtractionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExtractionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ExtractionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ExtractionService adapts extraction.Service to ExtractionServer.
type ExtractionService struct {
	service extraction.Service
	logger  logging.Logger
}

// NewExtractionService creates an ExtractionService.
func NewExtractionService(service extraction.Service, logger logging.Logger) *ExtractionService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExtractionService{service: service, logger: logger.Named("extraction_service")}
}

var _ ExtractionServer = (*ExtractionService)(nil)

func (s *ExtractionService) Extract(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	doc, err := decodeDocument(req)
	if err != nil {
		return nil, err
	}
	result, err := s.service.Extract(extraction.ContextWithSource(ctx, SourceGRPC), doc)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (s *ExtractionService) ExtractBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var batch common.BatchRequest[*epi.AnnotatedDocument]
	if err := fromStruct(req, &batch); err != nil {
		return nil, err
	}
	resp, err := s.service.ExtractBatch(extraction.ContextWithSource(ctx, SourceGRPC), &batch)
	if err != nil {
		return nil, err
	}
	return toStruct(resp)
}

func (s *ExtractionService) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	doc, err := decodeDocument(req)
	if err != nil {
		return nil, err
	}
	incidents, err := s.service.Resolve(extraction.ContextWithSource(ctx, SourceGRPC), doc)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]interface{}{"incidents": incidents})
}

func (s *ExtractionService) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["document_id"].GetStringValue()
	result, err := s.service.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func decodeDocument(req *structpb.Struct) (*epi.AnnotatedDocument, error) {
	data, err := req.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode request")
	}
	return preannotated.Decode(data, preannotated.FormatJSON)
}

func fromStruct(req *structpb.Struct, v interface{}) error {
	data, err := req.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode request")
	}
	return preannotated.Unmarshal(data, preannotated.FormatJSON, v)
}

// toStruct renders v through its JSON encoding.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode response")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode response")
	}
	return out, nil
}

// ExtractionClient calls epiextract.v1.Extraction.
type ExtractionClient struct {
	cc grpc.ClientConnInterface
}

// NewExtractionClient creates a client over cc.
func NewExtractionClient(cc grpc.ClientConnInterface) *ExtractionClient {
	return &ExtractionClient{cc: cc}
}

func (c *ExtractionClient) invoke(ctx context.Context, method string, in interface{}, out interface{}, opts ...grpc.CallOption) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return err
	}
	data, err := resp.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode response")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode response")
	}
	return nil
}

// Extract sends doc for extraction.
func (c *ExtractionClient) Extract(ctx context.Context, doc *epi.AnnotatedDocument, opts ...grpc.CallOption) (*epi.ExtractionResult, error) {
	var out epi.ExtractionResult
	if err := c.invoke(ctx, MethodExtract, doc, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractBatch sends a batch for extraction.
func (c *ExtractionClient) ExtractBatch(ctx context.Context, req *common.BatchRequest[*epi.AnnotatedDocument], opts ...grpc.CallOption) (*common.BatchResponse[*epi.ExtractionResult], error) {
	var out common.BatchResponse[*epi.ExtractionResult]
	if err := c.invoke(ctx, MethodExtractBatch, req, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve returns the incidents of doc in resolution format, as raw JSON
// objects.
func (c *ExtractionClient) Resolve(ctx context.Context, doc *epi.AnnotatedDocument, opts ...grpc.CallOption) ([]map[string]interface{}, error) {
	var out struct {
		Incidents []map[string]interface{} `json:"incidents"`
	}
	if err := c.invoke(ctx, MethodResolve, doc, &out, opts...); err != nil {
		return nil, err
	}
	return out.Incidents, nil
}

// Get fetches a stored result.
func (c *ExtractionClient) Get(ctx context.Context, documentID string, opts ...grpc.CallOption) (*epi.ExtractionResult, error) {
	var out epi.ExtractionResult
	if err := c.invoke(ctx, MethodGet, map[string]string{"document_id": documentID}, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}
