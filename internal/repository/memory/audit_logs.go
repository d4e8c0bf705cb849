package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type auditLogsRepo struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func NewAuditLogs() repo.AuditLogs {
	return &auditLogsRepo{}
}

func (r *auditLogsRepo) Create(_ context.Context, l models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = uuid.NewString()
	l.CreatedAt = time.Now()
	r.logs = append(r.logs, l)
	return nil
}
