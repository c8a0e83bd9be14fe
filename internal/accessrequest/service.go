package accessrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/metrics"
	"github.com/elskow/portal/internal/notify"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/user"
)

const (
	DefaultTokenTTL      = 7 * 24 * time.Hour
	DefaultPasswordTTL   = 7 * 24 * time.Hour
	MaxRejectionReason   = 500
	activationTokenBytes = 32
)

// Error codes surfaced to API clients.
const (
	CodeAccountExists    = "account_exists"
	CodeRequestPending   = "request_pending"
	CodeAlreadyProcessed = "already_processed"
	CodeTokenExpired     = "token_expired"
)

type CreateInput struct {
	Name          string     `json:"name" validate:"required,min=2,max=100"`
	Company       string     `json:"company" validate:"required,min=2,max=150"`
	Email         string     `json:"email" validate:"required,email,max=254"`
	Phone         string     `json:"phone" validate:"omitempty,max=32,phone"`
	Position      string     `json:"position" validate:"omitempty,max=100"`
	AccessType    AccessType `json:"access_type" validate:"required,oneof=client employee"`
	Message       string     `json:"message" validate:"omitempty,max=500"`
	AcceptTerms   bool       `json:"accept_terms" validate:"eq=true"`
	AcceptPrivacy bool       `json:"accept_privacy" validate:"eq=true"`
}

type ApproveResult struct {
	Request      *AccessRequest
	User         *user.User
	TempPassword string
}

type DeleteResult struct {
	UserDeactivated bool
}

type Service struct {
	repo            Repository
	users           user.Repository
	hasher          *security.Hasher
	notifier        notify.Notifier
	recorder        audit.Recorder
	validator       *api.Validator
	tokenTTL        time.Duration
	passwordLength  int
	passwordTTL     time.Duration
	adminRecipients []string
	log             *zap.Logger
	now             func() time.Time
}

type ServiceParams struct {
	Repo            Repository
	Users           user.Repository
	Hasher          *security.Hasher
	Notifier        notify.Notifier
	Recorder        audit.Recorder
	Validator       *api.Validator
	TokenTTL        time.Duration
	PasswordLength  int
	PasswordTTL     time.Duration
	AdminRecipients []string
	Logger          *zap.Logger
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		repo:            p.Repo,
		users:           p.Users,
		hasher:          p.Hasher,
		notifier:        p.Notifier,
		recorder:        p.Recorder,
		validator:       p.Validator,
		tokenTTL:        p.TokenTTL,
		passwordLength:  p.PasswordLength,
		passwordTTL:     p.PasswordTTL,
		adminRecipients: p.AdminRecipients,
		log:             p.Logger.Named("access_request"),
		now:             time.Now,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.passwordLength < security.MinTempPasswordLength {
		s.passwordLength = security.MinTempPasswordLength
	}
	if s.passwordTTL <= 0 {
		s.passwordTTL = DefaultPasswordTTL
	}
	return s
}

// Create validates and stores a new pending request, then notifies the
// submitter and the admins.
func (s *Service) Create(ctx context.Context, in CreateInput, origin audit.Origin) (*AccessRequest, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)
	in.Email = user.NormalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Position = strings.TrimSpace(in.Position)
	in.Message = strings.TrimSpace(in.Message)

	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()

	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		s.transition("create", "conflict")
		return nil, apperror.Conflict("an account already exists for this email", nil).WithCode(CodeAccountExists)
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, apperror.Internal("failed to check existing account", err)
	}

	token, err := security.GenerateToken(activationTokenBytes)
	if err != nil {
		return nil, apperror.Internal("failed to generate activation token", err)
	}
	expiresAt := now.Add(s.tokenTTL)

	req := &AccessRequest{
		Name:            in.Name,
		Email:           in.Email,
		Phone:           in.Phone,
		Company:         in.Company,
		Position:        in.Position,
		AccessType:      in.AccessType,
		Message:         in.Message,
		Status:          StatusPending,
		ActivationToken: token,
		TokenExpiresAt:  &expiresAt,
		IPAddress:       origin.IP,
		UserAgent:       origin.UserAgent,
		CreatedAt:       now,
	}
	if err := s.repo.Create(ctx, req, now); err != nil {
		if errors.Is(err, ErrPendingExists) {
			s.transition("create", "conflict")
			return nil, apperror.Conflict("a request for this email is already pending", err).WithCode(CodeRequestPending)
		}
		s.transition("create", "error")
		return nil, apperror.Internal("failed to store access request", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:   audit.ActionCreateUserRequest,
		Table:    "access_requests",
		RecordID: req.ID.String(),
		New:      req.snapshot(),
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	s.transition("create", "success")

	s.notify(ctx, notify.Message{
		Kind:       notify.KindRequestReceived,
		Recipients: []string{req.Email},
		Subject:    req.ID.String(),
		Data: map[string]interface{}{
			"name":        req.Name,
			"access_type": req.AccessType,
		},
	})
	s.notify(ctx, notify.Message{
		Kind:       notify.KindRequestAlert,
		Recipients: s.adminRecipients,
		Subject:    req.ID.String(),
		Data: map[string]interface{}{
			"name":        req.Name,
			"email":       req.Email,
			"company":     req.Company,
			"access_type": req.AccessType,
			"message":     req.Message,
		},
	})

	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*AccessRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NotFound("access request not found")
		}
		return nil, apperror.Internal("failed to load access request", err)
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]AccessRequest, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperror.Validation("invalid query", map[string]string{
			"status": "must be one of: pending approved rejected",
		})
	}
	reqs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.Internal("failed to list access requests", err)
	}
	return reqs, total, nil
}

// Approve provisions a user with a temporary password for a pending
// request. The status flip and the user insert commit together; a lost
// race surfaces as a Conflict.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer *user.User, origin audit.Origin) (*ApproveResult, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if req.Status.Terminal() {
		return nil, s.rejectApproval(ctx, req, reviewer, origin, "already processed",
			apperror.Conflict("access request already processed", nil).WithCode(CodeAlreadyProcessed))
	}
	if req.TokenExpired(now) {
		return nil, s.rejectApproval(ctx, req, reviewer, origin, "activation window expired",
			apperror.Conflict("access request has expired", nil).WithCode(CodeTokenExpired))
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, s.rejectApproval(ctx, req, reviewer, origin, "account exists",
			apperror.Conflict("an account already exists for this email", nil).WithCode(CodeAccountExists))
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, apperror.Internal("failed to check existing account", err)
	}

	role, ok := req.AccessType.Role()
	if !ok {
		return nil, apperror.Internal("access request has an unknown access type", fmt.Errorf("access type %q", req.AccessType))
	}

	password, err := security.GenerateTempPassword(s.passwordLength)
	if err != nil {
		return nil, apperror.Internal("failed to generate temporary password", err)
	}
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, apperror.Internal("failed to hash temporary password", err)
	}

	passwordExpiry := now.Add(s.passwordTTL)
	requestID := req.ID
	newUser := &user.User{
		ID:                     uuid.New(),
		Email:                  req.Email,
		Name:                   req.Name,
		Role:                   role,
		PasswordHash:           hash,
		IsActive:               true,
		EmailVerified:          false,
		RequiresPasswordChange: true,
		PasswordExpiresAt:      &passwordExpiry,
		SourceRequestID:        &requestID,
		Metadata: map[string]interface{}{
			"source":            "access_request",
			"access_request_id": requestID.String(),
			"company":           req.Company,
			"position":          req.Position,
		},
	}

	approved, err := s.repo.Approve(ctx, ApproveParams{
		RequestID:  req.ID,
		ReviewerID: reviewerID(reviewer),
		At:         now,
		User:       newUser,
	})
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return nil, s.rejectApproval(ctx, req, reviewer, origin, "lost approval race",
			apperror.Conflict("access request already processed", err).WithCode(CodeAlreadyProcessed))
	case errors.Is(err, user.ErrDuplicateEmail):
		return nil, s.rejectApproval(ctx, req, reviewer, origin, "account exists",
			apperror.Conflict("an account already exists for this email", err).WithCode(CodeAccountExists))
	case err != nil:
		s.transition("approve", "error")
		s.recorder.Record(ctx, audit.Event{
			UserID:   reviewerID(reviewer),
			Action:   audit.ActionApproveUserRequest,
			Table:    "access_requests",
			RecordID: req.ID.String(),
			Origin:   origin,
			Severity: audit.SeverityError,
			Error:    err.Error(),
		})
		return nil, apperror.Internal("failed to approve access request", err)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:   reviewerID(reviewer),
		Action:   audit.ActionCreateUserFromRequest,
		Table:    "users",
		RecordID: newUser.ID.String(),
		New: map[string]interface{}{
			"email":                    newUser.Email,
			"role":                     newUser.Role,
			"requires_password_change": newUser.RequiresPasswordChange,
			"source_request_id":        requestID.String(),
		},
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	s.recorder.Record(ctx, audit.Event{
		UserID:   reviewerID(reviewer),
		Action:   audit.ActionApproveUserRequest,
		Table:    "access_requests",
		RecordID: req.ID.String(),
		Old:      req.snapshot(),
		New:      approved.snapshot(),
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	s.transition("approve", "success")

	s.notify(ctx, notify.Message{
		Kind:       notify.KindRequestApproved,
		Recipients: []string{newUser.Email},
		Subject:    req.ID.String(),
		Data: map[string]interface{}{
			"name":                newUser.Name,
			"role":                newUser.Role,
			"temp_password":       password,
			"password_expires_at": passwordExpiry,
		},
	})

	return &ApproveResult{Request: approved, User: newUser, TempPassword: password}, nil
}

// Reject closes a pending request with a reason.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string, reviewer *user.User, origin audit.Origin) (*AccessRequest, error) {
	// Stored as given; only the emptiness check ignores whitespace.
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.Validation("invalid request", map[string]string{
			"rejection_reason": "is required",
		})
	}
	if len([]rune(reason)) > MaxRejectionReason {
		return nil, apperror.Validation("invalid request", map[string]string{
			"rejection_reason": fmt.Sprintf("must be at most %d characters long", MaxRejectionReason),
		})
	}

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		s.transition("reject", "conflict")
		return nil, apperror.Conflict("access request already processed", nil).WithCode(CodeAlreadyProcessed)
	}

	rejected, err := s.repo.Reject(ctx, RejectParams{
		RequestID:  req.ID,
		ReviewerID: reviewerID(reviewer),
		At:         s.now(),
		Reason:     reason,
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		s.transition("reject", "conflict")
		return nil, apperror.Conflict("access request already processed", err).WithCode(CodeAlreadyProcessed)
	}
	if err != nil {
		s.transition("reject", "error")
		return nil, apperror.Internal("failed to reject access request", err)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:   reviewerID(reviewer),
		Action:   audit.ActionRejectUserRequest,
		Table:    "access_requests",
		RecordID: req.ID.String(),
		Old:      req.snapshot(),
		New:      rejected.snapshot(),
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	s.transition("reject", "success")

	s.notify(ctx, notify.Message{
		Kind:       notify.KindRequestRejected,
		Recipients: []string{rejected.Email},
		Subject:    rejected.ID.String(),
		Data: map[string]interface{}{
			"name":             rejected.Name,
			"rejection_reason": reason,
		},
	})

	return rejected, nil
}

// Delete removes a request. Deleting an approved request deactivates the
// user it provisioned; the user row itself is kept.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, reviewer *user.User, origin audit.Origin) (*DeleteResult, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	if req.Status == StatusApproved {
		linked, err := s.linkedUser(ctx, req)
		if err != nil {
			return nil, apperror.Internal("failed to load linked user", err)
		}
		if linked != uuid.Nil {
			deactivated, err := s.users.Deactivate(ctx, linked)
			if err != nil {
				return nil, apperror.Internal("failed to deactivate linked user", err)
			}
			result.UserDeactivated = deactivated
			if deactivated {
				s.log.Warn("user deactivated with its access request",
					zap.String("user_id", linked.String()),
					zap.String("request_id", req.ID.String()))
				s.recorder.Record(ctx, audit.Event{
					UserID:   reviewerID(reviewer),
					Action:   audit.ActionDeactivateUser,
					Table:    "users",
					RecordID: linked.String(),
					Old:      map[string]bool{"is_active": true},
					New:      map[string]interface{}{"is_active": false, "source_request_id": req.ID.String()},
					Origin:   origin,
					Severity: audit.SeverityWarning,
					Success:  true,
				})
			}
		}
	}

	if err := s.repo.Delete(ctx, req.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NotFound("access request not found")
		}
		s.transition("delete", "error")
		return nil, apperror.Internal("failed to delete access request", err)
	}

	severity := audit.SeverityInfo
	if result.UserDeactivated {
		severity = audit.SeverityWarning
	}
	s.recorder.Record(ctx, audit.Event{
		UserID:   reviewerID(reviewer),
		Action:   audit.ActionDeleteUserRequest,
		Table:    "access_requests",
		RecordID: req.ID.String(),
		Old:      req.snapshot(),
		New:      map[string]bool{"user_deactivated": result.UserDeactivated},
		Origin:   origin,
		Severity: severity,
		Success:  true,
	})
	s.transition("delete", "success")

	return result, nil
}

// linkedUser resolves the user provisioned from req. Requests approved
// before the explicit link existed fall back to the user's provenance.
func (s *Service) linkedUser(ctx context.Context, req *AccessRequest) (uuid.UUID, error) {
	if req.ApprovedUserID != nil {
		return *req.ApprovedUserID, nil
	}
	u, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, user.ErrUserNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	if u.SourceRequestID != nil && *u.SourceRequestID == req.ID {
		return u.ID, nil
	}
	return uuid.Nil, nil
}

func (s *Service) rejectApproval(ctx context.Context, req *AccessRequest, reviewer *user.User, origin audit.Origin, reason string, err error) error {
	s.transition("approve", "conflict")
	s.recorder.Record(ctx, audit.Event{
		UserID:   reviewerID(reviewer),
		Action:   audit.ActionApproveUserRequest,
		Table:    "access_requests",
		RecordID: req.ID.String(),
		Old:      req.snapshot(),
		Origin:   origin,
		Severity: audit.SeverityWarning,
		Error:    reason,
	})
	return err
}

// notify attempts delivery once. Failures never reach the caller.
func (s *Service) notify(ctx context.Context, msg notify.Message) {
	if len(msg.Recipients) == 0 {
		s.log.Debug("notification skipped, no recipients", zap.String("kind", string(msg.Kind)))
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues(string(msg.Kind)).Inc()
		s.log.Error("failed to send notification",
			zap.String("kind", string(msg.Kind)),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

func (s *Service) transition(action, result string) {
	metrics.AccessRequestTransitionsTotal.WithLabelValues(action, result).Inc()
}

func reviewerID(u *user.User) *uuid.UUID {
	if u == nil {
		return nil
	}
	id := u.ID
	return &id
}
