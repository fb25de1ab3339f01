package server

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/enricher"
	"github.com/codementor/integrity/internal/pipeline"
	"github.com/codementor/integrity/internal/reporter"
	"github.com/codementor/integrity/internal/telemetry"
)

const (
	ServiceName = "integrity.v1.IngestService"

	SubmitBatchMethod       = "/" + ServiceName + "/SubmitBatch"
	GetSessionRecordsMethod = "/" + ServiceName + "/GetSessionRecords"
)

// GetSessionRecordsRequest selects one session.
type GetSessionRecordsRequest struct {
	SessionID string `json:"sessionId"`
}

// IngestService is the gRPC surface of the ingestor.
type IngestService interface {
	SubmitBatch(ctx context.Context, req *telemetry.Batch) (*pipeline.Result, error)
	GetSessionRecords(ctx context.Context, req *GetSessionRecordsRequest) (*reporter.SessionRecords, error)
}

type IngestServer struct {
	pipeline *pipeline.Pipeline
	reporter *reporter.Reporter
	enricher *enricher.Enricher
}

func NewIngestServer(p *pipeline.Pipeline, r *reporter.Reporter, e *enricher.Enricher) *IngestServer {
	return &IngestServer{
		pipeline: p,
		reporter: r,
		enricher: e,
	}
}

func (s *IngestServer) SubmitBatch(ctx context.Context, req *telemetry.Batch) (*pipeline.Result, error) {
	id, _ := auth.FromContext(ctx)
	meta := pipeline.Meta{Identity: id, Client: s.clientInfo(ctx)}

	res, err := s.pipeline.SubmitBatch(ctx, meta, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *IngestServer) GetSessionRecords(ctx context.Context, req *GetSessionRecordsRequest) (*reporter.SessionRecords, error) {
	id, _ := auth.FromContext(ctx)
	res, err := s.reporter.SessionRecords(ctx, id, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *IngestServer) clientInfo(ctx context.Context) *telemetry.ClientInfo {
	var ua, ip string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("user-agent"); len(v) > 0 {
			ua = v[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
	}
	return s.enricher.ClientInfo(ua, ip)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, reporter.ErrNotFound):
		return status.Error(codes.NotFound, "no events found for session")
	case errors.Is(err, reporter.ErrForbidden):
		return status.Error(codes.PermissionDenied, "access denied")
	case errors.Is(err, pipeline.ErrPersistence):
		return status.Error(codes.Internal, "events could not be recorded")
	default:
		log.Error().Err(err).Msg("Unhandled gRPC error")
		return status.Error(codes.Internal, "internal error")
	}
}

func submitBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(telemetry.Batch)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	if interceptor == nil {
		return srv.(IngestService).SubmitBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitBatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestService).SubmitBatch(ctx, req.(*telemetry.Batch))
	}
	return interceptor(ctx, in, info, handler)
}

func getSessionRecordsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetSessionRecordsRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	if interceptor == nil {
		return srv.(IngestService).GetSessionRecords(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetSessionRecordsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestService).GetSessionRecords(ctx, req.(*GetSessionRecordsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitBatch", Handler: submitBatchHandler},
		{MethodName: "GetSessionRecords", Handler: getSessionRecordsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "integrity/v1/ingest",
}

// RegisterIngestService registers srv and marks it serving on the standard health
// service.
func RegisterIngestService(s *grpc.Server, srv IngestService) *health.Server {
	s.RegisterService(&ingestServiceDesc, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return hs
}

// PublicMethods do not need a bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		"/grpc.health.v1.Health/Check": true,
		"/grpc.health.v1.Health/Watch": true,
		"/grpc.health.v1.Health/List":  true,
	}
}

// Client calls IngestService over conn using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) SubmitBatch(ctx context.Context, batch telemetry.Batch, opts ...grpc.CallOption) (*pipeline.Result, error) {
	out := new(pipeline.Result)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := c.conn.Invoke(ctx, SubmitBatchMethod, &batch, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSessionRecords(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*reporter.SessionRecords, error) {
	out := new(reporter.SessionRecords)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := c.conn.Invoke(ctx, GetSessionRecordsMethod, &GetSessionRecordsRequest{SessionID: sessionID}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
