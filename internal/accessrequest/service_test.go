package accessrequest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/notify"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/user"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func ofKind(kind notify.Kind) interface{} {
	return mock.MatchedBy(func(msg notify.Message) bool { return msg.Kind == kind })
}

type fixture struct {
	repo     *MemoryRepository
	users    *user.MemoryRepository
	audit    *audit.MemoryRepository
	hasher   *security.Hasher
	notifier *mockNotifier
	service  *Service
	admin    *user.User
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()

	auditRepo := audit.NewMemoryRepository()
	recorder, err := audit.NewService(auditRepo, 1, log)
	require.NoError(t, err)

	users := user.NewMemoryRepository()
	f := &fixture{
		repo:     NewMemoryRepository(users),
		users:    users,
		audit:    auditRepo,
		hasher:   security.NewHasher(bcrypt.MinCost),
		notifier: &mockNotifier{},
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(ServiceParams{
		Repo:            f.repo,
		Users:           users,
		Hasher:          f.hasher,
		Notifier:        f.notifier,
		Recorder:        recorder,
		Validator:       api.NewValidator(),
		AdminRecipients: []string{"admin@portal.test"},
		Logger:          log,
	})
	f.service.now = func() time.Time { return f.now }

	f.admin = &user.User{
		Email:    "admin@portal.test",
		Name:     "Admin",
		Role:     user.RoleAdmin,
		IsActive: true,
	}
	require.NoError(t, users.Create(context.Background(), f.admin))
	return f
}

func validInput(email string, accessType AccessType) CreateInput {
	return CreateInput{
		Name:          "Ada Lovelace",
		Company:       "Analytical Engines",
		Email:         email,
		Phone:         "+44 20 7946 0958",
		Position:      "Engineer",
		AccessType:    accessType,
		Message:       "Need portal access",
		AcceptTerms:   true,
		AcceptPrivacy: true,
	}
}

var origin = audit.Origin{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}

// submit creates a request while accepting both submission notifications.
func (f *fixture) submit(t *testing.T, email string, accessType AccessType) *AccessRequest {
	t.Helper()
	f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestReceived)).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestAlert)).Return(nil).Once()
	req, err := f.service.Create(context.Background(), validInput(email, accessType), origin)
	require.NoError(t, err)
	return req
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "  Ada@Example.COM ", AccessClient)

	assert.Equal(t, "ada@example.com", req.Email)
	assert.Equal(t, StatusPending, req.Status)
	assert.NotEmpty(t, req.ActivationToken)
	require.NotNil(t, req.TokenExpiresAt)
	assert.Equal(t, f.now.Add(DefaultTokenTTL), *req.TokenExpiresAt)
	assert.Equal(t, origin.IP, req.IPAddress)
	assert.Equal(t, []string{audit.ActionCreateUserRequest}, f.audit.Actions())
	f.notifier.AssertExpectations(t)
	f.notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"missing name", func(in *CreateInput) { in.Name = "" }, "name"},
		{"short name", func(in *CreateInput) { in.Name = "A" }, "name"},
		{"bad email", func(in *CreateInput) { in.Email = "not-an-email" }, "email"},
		{"missing company", func(in *CreateInput) { in.Company = "  " }, "company"},
		{"bad phone", func(in *CreateInput) { in.Phone = "12ab" }, "phone"},
		{"phone longer than column", func(in *CreateInput) { in.Phone = "+" + strings.Repeat("(1) ", 12) + "234" }, "phone"},
		{"unknown access type", func(in *CreateInput) { in.AccessType = "admin" }, "access_type"},
		{"long message", func(in *CreateInput) { in.Message = strings.Repeat("x", 501) }, "message"},
		{"terms not accepted", func(in *CreateInput) { in.AcceptTerms = false }, "accept_terms"},
		{"privacy not accepted", func(in *CreateInput) { in.AcceptPrivacy = false }, "accept_privacy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput("ada@example.com", AccessClient)
			tt.mutate(&in)

			_, err := f.service.Create(context.Background(), in, origin)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.KindValidation))

			var appErr *apperror.Error
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Fields, tt.field)

			_, total, _ := f.repo.List(context.Background(), ListFilter{})
			assert.Zero(t, total)
			f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		})
	}
}

func TestService_CreateDuplicates(t *testing.T) {
	t.Run("pending request blocks resubmission", func(t *testing.T) {
		f := newFixture(t)
		f.submit(t, "ada@example.com", AccessClient)

		_, err := f.service.Create(context.Background(), validInput("ADA@example.com", AccessEmployee), origin)
		assertConflict(t, err, CodeRequestPending)

		_, total, _ := f.repo.List(context.Background(), ListFilter{})
		assert.EqualValues(t, 1, total)
	})

	t.Run("active account blocks submission", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Create(context.Background(), validInput(f.admin.Email, AccessClient), origin)
		assertConflict(t, err, CodeAccountExists)

		_, total, _ := f.repo.List(context.Background(), ListFilter{})
		assert.Zero(t, total)
	})

	t.Run("expired pending request does not block", func(t *testing.T) {
		f := newFixture(t)
		f.submit(t, "ada@example.com", AccessClient)

		f.now = f.now.Add(DefaultTokenTTL + time.Minute)
		f.submit(t, "ada@example.com", AccessClient)

		_, total, _ := f.repo.List(context.Background(), ListFilter{})
		assert.EqualValues(t, 2, total)
	})

	t.Run("rejected request does not block", func(t *testing.T) {
		f := newFixture(t)
		req := f.submit(t, "ada@example.com", AccessClient)
		f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestRejected)).Return(nil).Once()
		_, err := f.service.Reject(context.Background(), req.ID, "incomplete", f.admin, origin)
		require.NoError(t, err)

		f.submit(t, "ada@example.com", AccessClient)
	})
}

func TestService_ConcurrentCreate(t *testing.T) {
	f := newFixture(t)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	const submitters = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Create(context.Background(), validInput("ada@example.com", AccessClient), origin)
			var appErr *apperror.Error
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.As(err, &appErr) && appErr.Code == CodeRequestPending:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, submitters-1, conflicts)
	_, total, err := f.repo.List(context.Background(), ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestService_ApproveRoleMapping(t *testing.T) {
	tests := []struct {
		accessType AccessType
		role       user.Role
	}{
		{AccessClient, user.RoleClient},
		{AccessEmployee, user.RoleEmployee},
	}

	for _, tt := range tests {
		t.Run(string(tt.accessType), func(t *testing.T) {
			f := newFixture(t)
			req := f.submit(t, "ada@example.com", tt.accessType)
			f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestApproved)).Return(nil).Once()

			result, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
			require.NoError(t, err)

			assert.Equal(t, StatusApproved, result.Request.Status)
			assert.GreaterOrEqual(t, len(result.TempPassword), security.MinTempPasswordLength)
			require.NotNil(t, result.Request.ApprovedUserID)
			assert.Equal(t, result.User.ID, *result.Request.ApprovedUserID)
			assert.Equal(t, f.admin.ID, *result.Request.ReviewedBy)

			created, err := f.users.FindByEmail(context.Background(), "ada@example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.role, created.Role)
			assert.True(t, created.IsActive)
			assert.False(t, created.EmailVerified)
			assert.True(t, created.RequiresPasswordChange)
			require.NotNil(t, created.PasswordExpiresAt)
			assert.Equal(t, f.now.Add(DefaultPasswordTTL), *created.PasswordExpiresAt)
			require.NotNil(t, created.SourceRequestID)
			assert.Equal(t, req.ID, *created.SourceRequestID)
			assert.True(t, f.hasher.CheckPasswordHash(result.TempPassword, created.PasswordHash))

			assert.Equal(t, []string{
				audit.ActionCreateUserRequest,
				audit.ActionCreateUserFromRequest,
				audit.ActionApproveUserRequest,
			}, f.audit.Actions())
			f.notifier.AssertExpectations(t)
			f.notifier.AssertNumberOfCalls(t, "Notify", 3)
		})
	}
}

func TestService_ApproveConflicts(t *testing.T) {
	t.Run("already approved", func(t *testing.T) {
		f := newFixture(t)
		req := f.submit(t, "ada@example.com", AccessClient)
		f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestApproved)).Return(nil).Once()
		_, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
		require.NoError(t, err)
		usersBefore := f.users.Count()

		_, err = f.service.Approve(context.Background(), req.ID, f.admin, origin)
		assertConflict(t, err, CodeAlreadyProcessed)
		assert.Equal(t, usersBefore, f.users.Count())
		f.notifier.AssertNumberOfCalls(t, "Notify", 3)
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t)
		req := f.submit(t, "ada@example.com", AccessClient)
		f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestRejected)).Return(nil).Once()
		_, err := f.service.Reject(context.Background(), req.ID, "no", f.admin, origin)
		require.NoError(t, err)

		_, err = f.service.Approve(context.Background(), req.ID, f.admin, origin)
		assertConflict(t, err, CodeAlreadyProcessed)

		stored, err := f.repo.FindByID(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, stored.Status)
		assert.Nil(t, stored.ApprovedUserID)
	})

	t.Run("activation window expired", func(t *testing.T) {
		f := newFixture(t)
		req := f.submit(t, "ada@example.com", AccessClient)
		f.now = f.now.Add(DefaultTokenTTL)

		_, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
		assertConflict(t, err, CodeTokenExpired)
		assert.Equal(t, 1, f.users.Count())
	})

	t.Run("account created meanwhile", func(t *testing.T) {
		f := newFixture(t)
		req := f.submit(t, "ada@example.com", AccessClient)
		require.NoError(t, f.users.Create(context.Background(), &user.User{
			Email: "ada@example.com", Name: "Ada", Role: user.RoleClient, IsActive: true,
		}))

		_, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
		assertConflict(t, err, CodeAccountExists)

		stored, err := f.repo.FindByID(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Approve(context.Background(), uuid.New(), f.admin, origin)
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
	})
}

func TestService_ConcurrentApprove(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "ada@example.com", AccessEmployee)
	f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestApproved)).Return(nil).Once()
	usersBefore := f.users.Count()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperror.Is(err, apperror.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, usersBefore+1, f.users.Count())
	f.notifier.AssertNumberOfCalls(t, "Notify", 3)
}

func TestService_Reject(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		valid  bool
	}{
		{"empty reason", "", false},
		{"blank reason", "   ", false},
		{"too long", strings.Repeat("r", MaxRejectionReason+1), false},
		{"verbatim reason", "Company could not be verified.", true},
		{"surrounding whitespace kept", "  Not verified.\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.submit(t, "ada@example.com", AccessClient)

			if !tt.valid {
				_, err := f.service.Reject(context.Background(), req.ID, tt.reason, f.admin, origin)
				require.Error(t, err)
				assert.True(t, apperror.Is(err, apperror.KindValidation))
				var appErr *apperror.Error
				require.True(t, errors.As(err, &appErr))
				assert.Contains(t, appErr.Fields, "rejection_reason")

				stored, err := f.repo.FindByID(context.Background(), req.ID)
				require.NoError(t, err)
				assert.Equal(t, StatusPending, stored.Status)
				return
			}

			f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestRejected)).Return(nil).Once()
			rejected, err := f.service.Reject(context.Background(), req.ID, tt.reason, f.admin, origin)
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, rejected.Status)
			require.NotNil(t, rejected.RejectionReason)
			assert.Equal(t, tt.reason, *rejected.RejectionReason)

			stored, err := f.repo.FindByID(context.Background(), req.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, *stored.RejectionReason)
			f.notifier.AssertExpectations(t)
		})
	}
}

func TestService_DeleteApprovedDeactivatesUser(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "ada@example.com", AccessClient)
	f.notifier.On("Notify", mock.Anything, ofKind(notify.KindRequestApproved)).Return(nil).Once()
	result, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
	require.NoError(t, err)
	usersBefore := f.users.Count()

	deleted, err := f.service.Delete(context.Background(), req.ID, f.admin, origin)
	require.NoError(t, err)
	assert.True(t, deleted.UserDeactivated)

	provisioned, err := f.users.FindByID(context.Background(), result.User.ID)
	require.NoError(t, err)
	assert.False(t, provisioned.IsActive)
	assert.Equal(t, usersBefore, f.users.Count())

	_, err = f.service.Get(context.Background(), req.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	actions := f.audit.Actions()
	assert.Equal(t, audit.ActionDeactivateUser, actions[len(actions)-2])
	assert.Equal(t, audit.ActionDeleteUserRequest, actions[len(actions)-1])
}

func TestService_DeletePendingLeavesUsersAlone(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "ada@example.com", AccessClient)

	deleted, err := f.service.Delete(context.Background(), req.ID, f.admin, origin)
	require.NoError(t, err)
	assert.False(t, deleted.UserDeactivated)

	admin, err := f.users.FindByID(context.Background(), f.admin.ID)
	require.NoError(t, err)
	assert.True(t, admin.IsActive)
}

func TestService_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	req, err := f.service.Create(context.Background(), validInput("ada@example.com", AccessClient), origin)
	require.NoError(t, err)

	result, err := f.service.Approve(context.Background(), req.ID, f.admin, origin)
	require.NoError(t, err)
	assert.NotEmpty(t, result.TempPassword)
	f.notifier.AssertNumberOfCalls(t, "Notify", 3)
}

func TestService_ListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.List(context.Background(), ListFilter{Status: "archived"})
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func assertConflict(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindConflict, appErr.Kind)
	assert.Equal(t, code, appErr.Code)
}
