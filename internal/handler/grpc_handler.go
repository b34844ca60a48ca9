package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

// ChequeServiceName is the fully qualified gRPC service name.
const ChequeServiceName = "cheques.v1.ChequeService"

// ChequeServiceServer is the gRPC surface used by the payables and
// receivables services. Messages are google.protobuf.Struct documents with
// the same field names as the JSON API.
type ChequeServiceServer interface {
	GetChequeLeaf(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	IssueCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReceiveCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetIncomingCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ApproveRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RejectRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetExposureSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements ChequeServiceServer over the core services.
type GRPCHandler struct {
	svc       *service.Services
	threshold decimal.Decimal
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc *service.Services, threshold decimal.Decimal, log *logger.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GRPCHandler{svc: svc, threshold: threshold, log: log.With("handler", "grpc")}
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&chequeServiceDesc, h)
}

type idRequest struct {
	ID int64 `json:"id"`
}

// grpcIssueRequest issues a specific leaf (leafId) or the next free leaf of
// a book (bookId).
type grpcIssueRequest struct {
	service.IssueRequest
	LeafID          int64 `json:"leafId,omitempty"`
	BookID          int64 `json:"bookId,omitempty"`
	RequireApproval bool  `json:"requireApproval,omitempty"`
}

type grpcReceiveRequest struct {
	service.ReceiveRequest
	RequireApproval bool `json:"requireApproval,omitempty"`
}

type grpcRejectRequest struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// GetChequeLeaf returns one leaf.
func (h *GRPCHandler) GetChequeLeaf(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	h.log.Debug().Int64("id", in.ID).Msg("gRPC GetChequeLeaf called")

	leaf, err := h.svc.Cheques.GetLeaf(ctx, in.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(leaf)
}

// IssueCheque issues a leaf, or stages the issue when approval is required.
// The response carries either "leaf" or "approvalRequest".
func (h *GRPCHandler) IssueCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in grpcIssueRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	h.log.Info().
		Int64("leaf_id", in.LeafID).
		Int64("book_id", in.BookID).
		Str("amount", in.Amount.String()).
		Msg("gRPC IssueCheque called")

	if (in.LeafID == 0) == (in.BookID == 0) {
		return nil, mapErrorToGRPC(errors.InvalidInput("leafId", "exactly one of leafId and bookId is required"))
	}
	actor := actorFromContext(ctx)

	if requiresApproval(h.threshold, in.RequireApproval, in.Amount) {
		leafID := in.LeafID
		if leafID == 0 {
			next, err := h.svc.Cheques.NextFreeLeaf(ctx, in.BookID)
			if err != nil {
				return nil, mapErrorToGRPC(err)
			}
			leafID = next.ID
		}
		staged, err := h.submit(ctx, actor, repository.EntityChequeLeaf, leafID, repository.ActionIssue, in.IssueRequest, in.Amount)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return toStruct(map[string]any{"approvalRequest": staged})
	}

	var (
		leaf *repository.ChequeLeaf
		err  error
	)
	if in.LeafID != 0 {
		leaf, err = h.svc.Cheques.Issue(ctx, actor, in.LeafID, &in.IssueRequest)
	} else {
		leaf, err = h.svc.Cheques.IssueNext(ctx, actor, in.BookID, &in.IssueRequest)
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to issue cheque")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"leaf": leaf})
}

// ReceiveCheque records a received cheque, or stages the receipt. The
// response carries either "incomingCheque" or "approvalRequest".
func (h *GRPCHandler) ReceiveCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in grpcReceiveRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	h.log.Info().
		Str("customer_id", in.CustomerID).
		Str("cheque_number", in.ChequeNumber).
		Msg("gRPC ReceiveCheque called")
	actor := actorFromContext(ctx)

	if requiresApproval(h.threshold, in.RequireApproval, in.Amount) {
		staged, err := h.submit(ctx, actor, repository.EntityIncomingCheque, 0, repository.ActionReceive, in.ReceiveRequest, in.Amount)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return toStruct(map[string]any{"approvalRequest": staged})
	}

	cheque, err := h.svc.Incoming.Receive(ctx, actor, &in.ReceiveRequest)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to receive cheque")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"incomingCheque": cheque})
}

func (h *GRPCHandler) GetIncomingCheque(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	cheque, err := h.svc.Incoming.Get(ctx, in.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(cheque)
}

// ApproveRequest approves a pending request as the calling actor.
func (h *GRPCHandler) ApproveRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	h.log.Info().Int64("approval_request_id", in.ID).Msg("gRPC ApproveRequest called")

	out, err := h.svc.Approvals.Approve(ctx, actorFromContext(ctx), in.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(out)
}

func (h *GRPCHandler) RejectRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in grpcRejectRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	h.log.Info().Int64("approval_request_id", in.ID).Msg("gRPC RejectRequest called")

	out, err := h.svc.Approvals.Reject(ctx, actorFromContext(ctx), in.ID, in.Reason)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(out)
}

func (h *GRPCHandler) GetExposureSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	summary, err := h.svc.Exposure.Summary(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(summary)
}

func (h *GRPCHandler) submit(
	ctx context.Context,
	actor string,
	entityType repository.EntityType,
	entityID int64,
	action repository.ActionType,
	payload any,
	amount decimal.Decimal,
) (*repository.ApprovalRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode approval payload")
	}
	return h.svc.Approvals.Submit(ctx, actor, &service.SubmitRequest{
		EntityType: entityType,
		EntityID:   entityID,
		ActionType: action,
		Payload:    raw,
		Amount:     amount,
	})
}

// requiresApproval applies the routing policy shared by both transports.
func requiresApproval(threshold decimal.Decimal, requested bool, amount decimal.Decimal) bool {
	return requested || (threshold.IsPositive() && amount.GreaterThanOrEqual(threshold))
}

// fromStruct decodes a Struct document into v, rejecting unknown fields.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return errors.InvalidInput("request", err.Error())
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("request", err.Error())
	}
	return nil
}

// toStruct encodes v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidRange:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeOverlappingRange, errors.ErrCodeIllegalTransition:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeDuplicatePending:
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.ErrCodeAlreadyDecided, errors.ErrCodeConflict:
		return status.Error(codes.Aborted, err.Error())
	case errors.ErrCodeSelfApproval:
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.ErrCodeStorageUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func unaryHandler(call func(ChequeServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChequeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ChequeServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChequeServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var chequeServiceDesc = grpc.ServiceDesc{
	ServiceName: ChequeServiceName,
	HandlerType: (*ChequeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetChequeLeaf", Handler: unaryHandler(ChequeServiceServer.GetChequeLeaf, "GetChequeLeaf")},
		{MethodName: "IssueCheque", Handler: unaryHandler(ChequeServiceServer.IssueCheque, "IssueCheque")},
		{MethodName: "ReceiveCheque", Handler: unaryHandler(ChequeServiceServer.ReceiveCheque, "ReceiveCheque")},
		{MethodName: "GetIncomingCheque", Handler: unaryHandler(ChequeServiceServer.GetIncomingCheque, "GetIncomingCheque")},
		{MethodName: "ApproveRequest", Handler: unaryHandler(ChequeServiceServer.ApproveRequest, "ApproveRequest")},
		{MethodName: "RejectRequest", Handler: unaryHandler(ChequeServiceServer.RejectRequest, "RejectRequest")},
		{MethodName: "GetExposureSummary", Handler: unaryHandler(ChequeServiceServer.GetExposureSummary, "GetExposureSummary")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cheques/v1/cheques.proto",
}
