package accessrequest

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/database/dbtest"
	"github.com/elskow/portal/internal/user"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Run(m))
}

type pgFixture struct {
	db       *gorm.DB
	repo     Repository
	users    user.Repository
	reviewer *user.User
	now      time.Time
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	db := dbtest.DB(t)
	f := &pgFixture{
		db:    db,
		repo:  NewRepository(db),
		users: user.NewRepository(db),
		now:   time.Now().UTC().Truncate(time.Microsecond),
	}
	f.reviewer = &user.User{
		Email:        "admin@portal.test",
		Name:         "Admin",
		Role:         user.RoleAdmin,
		PasswordHash: "hash",
		IsActive:     true,
	}
	require.NoError(t, f.users.Create(context.Background(), f.reviewer))
	return f
}

func (f *pgFixture) pending(t *testing.T, email string, expiresIn time.Duration) *AccessRequest {
	t.Helper()
	expiresAt := f.now.Add(expiresIn)
	req := &AccessRequest{
		Name:            "Ada Lovelace",
		Email:           email,
		Company:         "Analytical Engines",
		AccessType:      AccessClient,
		Status:          StatusPending,
		ActivationToken: "token",
		TokenExpiresAt:  &expiresAt,
		CreatedAt:       f.now,
	}
	require.NoError(t, f.repo.Create(context.Background(), req, f.now))
	return req
}

func provisioned(req *AccessRequest) *user.User {
	return &user.User{
		Email:                  req.Email,
		Name:                   req.Name,
		Role:                   user.RoleClient,
		PasswordHash:           "hash",
		IsActive:               true,
		RequiresPasswordChange: true,
		SourceRequestID:        &req.ID,
	}
}

func (f *pgFixture) countUsers(t *testing.T, email string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&user.User{}).Where("lower(email) = ?", email).Count(&n).Error)
	return n
}

func TestRepository_Postgres_ConcurrentApprove(t *testing.T) {
	f := newPGFixture(t)
	req := f.pending(t, "ada@example.com", time.Hour)

	const reviewers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		processed int
		other     []error
	)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.repo.Approve(context.Background(), ApproveParams{
				RequestID:  req.ID,
				ReviewerID: &f.reviewer.ID,
				At:         f.now,
				User:       provisioned(req),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case errors.Is(err, ErrAlreadyProcessed):
				processed++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, approved)
	assert.Equal(t, reviewers-1, processed)
	assert.EqualValues(t, 1, f.countUsers(t, "ada@example.com"))

	stored, err := f.repo.FindByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	require.NotNil(t, stored.ApprovedUserID)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, f.reviewer.ID, *stored.ReviewedBy)

	linked, err := f.users.FindByID(context.Background(), *stored.ApprovedUserID)
	require.NoError(t, err)
	require.NotNil(t, linked.SourceRequestID)
	assert.Equal(t, req.ID, *linked.SourceRequestID)
}

func TestRepository_Postgres_ApproveRollsBackOnDuplicateEmail(t *testing.T) {
	f := newPGFixture(t)
	req := f.pending(t, "ada@example.com", time.Hour)

	existing := provisioned(req)
	existing.SourceRequestID = nil
	require.NoError(t, f.users.Create(context.Background(), existing))

	_, err := f.repo.Approve(context.Background(), ApproveParams{
		RequestID:  req.ID,
		ReviewerID: &f.reviewer.ID,
		At:         f.now,
		User:       provisioned(req),
	})
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)

	stored, err := f.repo.FindByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.ApprovedUserID)
	assert.Nil(t, stored.ReviewedAt)
	assert.EqualValues(t, 1, f.countUsers(t, "ada@example.com"))
}

func TestRepository_Postgres_ApproveExpiredToken(t *testing.T) {
	f := newPGFixture(t)
	req := f.pending(t, "ada@example.com", time.Hour)

	_, err := f.repo.Approve(context.Background(), ApproveParams{
		RequestID: req.ID,
		At:        f.now.Add(2 * time.Hour),
		User:      provisioned(req),
	})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Zero(t, f.countUsers(t, "ada@example.com"))
}

func TestRepository_Postgres_Reject(t *testing.T) {
	f := newPGFixture(t)
	req := f.pending(t, "ada@example.com", time.Hour)
	reason := "  Not verified.\n"

	rejected, err := f.repo.Reject(context.Background(), RejectParams{
		RequestID:  req.ID,
		ReviewerID: &f.reviewer.ID,
		At:         f.now,
		Reason:     reason,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, reason, *rejected.RejectionReason)

	_, err = f.repo.Reject(context.Background(), RejectParams{
		RequestID: req.ID,
		At:        f.now,
		Reason:    "again",
	})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = f.repo.Approve(context.Background(), ApproveParams{
		RequestID: req.ID,
		At:        f.now,
		User:      provisioned(req),
	})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestRepository_Postgres_ConcurrentCreate(t *testing.T) {
	f := newPGFixture(t)

	const submitters = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		pending int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expiresAt := f.now.Add(time.Hour)
			err := f.repo.Create(context.Background(), &AccessRequest{
				Name:           "Ada Lovelace",
				Email:          "Ada@Example.com",
				Company:        "Analytical Engines",
				AccessType:     AccessClient,
				Status:         StatusPending,
				TokenExpiresAt: &expiresAt,
			}, f.now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrPendingExists):
				pending++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, submitters-1, pending)
	_, total, err := f.repo.List(context.Background(), ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestRepository_Postgres_ExpiredPendingDoesNotBlock(t *testing.T) {
	f := newPGFixture(t)
	f.pending(t, "ada@example.com", time.Hour)

	later := f.now.Add(2 * time.Hour)
	expiresAt := later.Add(time.Hour)
	err := f.repo.Create(context.Background(), &AccessRequest{
		ID:             uuid.New(),
		Name:           "Ada Lovelace",
		Email:          "ada@example.com",
		Company:        "Analytical Engines",
		AccessType:     AccessClient,
		Status:         StatusPending,
		TokenExpiresAt: &expiresAt,
	}, later)
	require.NoError(t, err)

	_, total, err := f.repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}
