package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

func TestAuditSubject(t *testing.T) {
	tests := []struct {
		entity repository.EntityType
		action string
		want   string
	}{
		{repository.EntityChequeLeaf, "ISSUE", "cheques.audit.cheque_leaf.issue"},
		{repository.EntityIncomingCheque, "MARK_DUE", "cheques.audit.incoming_cheque.mark_due"},
		{repository.EntityApprovalRequest, "APPROVE", "cheques.audit.approval_request.approve"},
		{repository.EntityChequeBook, "CREATE", "cheques.audit.cheque_book.create"},
	}
	for _, tt := range tests {
		got := AuditSubject(&repository.AuditLogEntry{EntityType: tt.entity, Action: tt.action})
		assert.Equal(t, tt.want, got)
	}
}
