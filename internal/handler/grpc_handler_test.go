package handler

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

type grpcClient struct {
	t    *testing.T
	conn *grpc.ClientConn
	svc  *service.Services
}

func newGRPC(t *testing.T) *grpcClient {
	t.Helper()
	svc := service.New(service.Dependencies{Store: repository.NewMemoryStore()})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor(nil)))
	NewGRPCHandler(svc, decimal.NewFromInt(10000), nil).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcClient{t: t, conn: conn, svc: svc}
}

func (c *grpcClient) call(method, actor string, in map[string]any) (*structpb.Struct, error) {
	c.t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(c.t, err)
	ctx := context.Background()
	if actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, metadataActor, actor)
	}
	out := &structpb.Struct{}
	err = c.conn.Invoke(ctx, "/"+ChequeServiceName+"/"+method, req, out)
	return out, err
}

func (c *grpcClient) leaves() []*repository.ChequeLeaf {
	c.t.Helper()
	ctx := context.Background()
	book, err := c.svc.Books.CreateChequeBook(ctx, maker, &service.CreateChequeBookRequest{
		AccountID: "ACC-7", StartNumber: 1, EndNumber: 3, IssuedDate: "2026-01-15",
	})
	require.NoError(c.t, err)
	leaves, err := c.svc.Books.ListLeaves(ctx, book.ID)
	require.NoError(c.t, err)
	return leaves
}

func TestGRPC_IssueDirectAndStaged(t *testing.T) {
	c := newGRPC(t)
	leaves := c.leaves()

	out, err := c.call("IssueCheque", maker, map[string]any{
		"leafId": float64(leaves[0].ID), "payeeName": "Acme", "amount": "250.00", "chequeDate": "2026-04-01",
	})
	require.NoError(t, err)
	leaf := out.GetFields()["leaf"].GetStructValue()
	require.NotNil(t, leaf)
	assert.Equal(t, "ISSUED", leaf.GetFields()["status"].GetStringValue())

	out, err = c.call("IssueCheque", maker, map[string]any{
		"bookId": float64(leaves[0].BookID), "vendorId": "V-9", "amount": "25000", "chequeDate": "2026-04-01",
	})
	require.NoError(t, err)
	staged := out.GetFields()["approvalRequest"].GetStructValue()
	require.NotNil(t, staged)
	assert.Equal(t, "PENDING", staged.GetFields()["status"].GetStringValue())
	assert.Equal(t, float64(leaves[1].ID), staged.GetFields()["entityId"].GetNumberValue())

	id := staged.GetFields()["id"].GetNumberValue()
	_, err = c.call("ApproveRequest", maker, map[string]any{"id": id})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err = c.call("ApproveRequest", checker, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "ISSUED", out.GetFields()["leaf"].GetStructValue().GetFields()["status"].GetStringValue())
}

func TestGRPC_ReceiveAndLookup(t *testing.T) {
	c := newGRPC(t)

	out, err := c.call("ReceiveCheque", maker, map[string]any{
		"customerId": "CUST-3", "chequeNumber": "5501", "chequeDate": "2026-03-10",
		"receivedDate": "2026-03-01", "bankName": "Harbour Bank", "amount": "900",
	})
	require.NoError(t, err)
	cheque := out.GetFields()["incomingCheque"].GetStructValue()
	require.NotNil(t, cheque)

	out, err = c.call("GetIncomingCheque", "", map[string]any{"id": cheque.GetFields()["id"].GetNumberValue()})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", out.GetFields()["status"].GetStringValue())

	out, err = c.call("GetExposureSummary", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "900", out.GetFields()["netIncoming"].GetStringValue())
}

func TestGRPC_Errors(t *testing.T) {
	c := newGRPC(t)
	leaves := c.leaves()

	_, err := c.call("GetChequeLeaf", "", map[string]any{"id": 4242})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.call("GetChequeLeaf", "", map[string]any{"leaf": 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.call("IssueCheque", "", map[string]any{
		"leafId": float64(leaves[0].ID), "payeeName": "Acme", "amount": "10", "chequeDate": "2026-04-01",
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.call("IssueCheque", maker, map[string]any{
		"leafId": float64(leaves[0].ID), "bookId": float64(leaves[0].BookID),
		"payeeName": "Acme", "amount": "10", "chequeDate": "2026-04-01",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.call("RejectRequest", checker, map[string]any{"id": 77, "reason": "no"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := map[errors.Code]codes.Code{
		errors.ErrCodeValidation:         codes.InvalidArgument,
		errors.ErrCodeInvalidRange:       codes.InvalidArgument,
		errors.ErrCodeOverlappingRange:   codes.FailedPrecondition,
		errors.ErrCodeIllegalTransition:  codes.FailedPrecondition,
		errors.ErrCodeDuplicatePending:   codes.AlreadyExists,
		errors.ErrCodeAlreadyDecided:     codes.Aborted,
		errors.ErrCodeConflict:           codes.Aborted,
		errors.ErrCodeSelfApproval:       codes.PermissionDenied,
		errors.ErrCodeNotFound:           codes.NotFound,
		errors.ErrCodeUnauthorized:       codes.Unauthenticated,
		errors.ErrCodeStorageUnavailable: codes.Unavailable,
		errors.ErrCodeInternal:           codes.Internal,
	}
	for code, want := range tests {
		assert.Equal(t, want, status.Code(mapErrorToGRPC(errors.New(code, "x"))), code)
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
