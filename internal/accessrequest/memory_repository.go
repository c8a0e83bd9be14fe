package accessrequest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elskow/portal/internal/user"
)

// MemoryRepository keeps requests in process. Approve creates the user
// through users while holding the repository lock, which gives the same
// all-or-nothing result as the database transaction.
type MemoryRepository struct {
	requests map[uuid.UUID]*AccessRequest
	users    user.Repository
	mu       sync.Mutex
}

func NewMemoryRepository(users user.Repository) *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[uuid.UUID]*AccessRequest),
		users:    users,
	}
}

func (r *MemoryRepository) Create(_ context.Context, req *AccessRequest, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req.Email = user.NormalizeEmail(req.Email)
	for _, existing := range r.requests {
		if existing.Email == req.Email && existing.BlocksResubmission(now) {
			return ErrPendingExists
		}
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	c := *req
	r.requests[req.ID] = &c
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *req
	return &c, nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]AccessRequest, int64, error) {
	filter = filter.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []AccessRequest
	for _, req := range r.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		matched = append(matched, *req)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []AccessRequest{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryRepository) Approve(ctx context.Context, params ApproveParams) (*AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[params.RequestID]
	if !ok || req.Status != StatusPending || req.TokenExpired(params.At) {
		return nil, ErrAlreadyProcessed
	}

	if err := r.users.Create(ctx, params.User); err != nil {
		return nil, err
	}

	at := params.At
	req.Status = StatusApproved
	req.ApprovedAt = &at
	req.ReviewedAt = &at
	req.ReviewedBy = params.ReviewerID
	req.ApprovedUserID = &params.User.ID
	req.UpdatedAt = at

	c := *req
	return &c, nil
}

func (r *MemoryRepository) Reject(_ context.Context, params RejectParams) (*AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[params.RequestID]
	if !ok || req.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	at := params.At
	reason := params.Reason
	req.Status = StatusRejected
	req.RejectionReason = &reason
	req.ReviewedAt = &at
	req.ReviewedBy = params.ReviewerID
	req.UpdatedAt = at

	c := *req
	return &c, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; !ok {
		return ErrNotFound
	}
	delete(r.requests, id)
	return nil
}
