package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/database"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/server"
	"github.com/elskow/portal/internal/user"
)

type seedInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Password string `json:"password" validate:"required,min=12,max=128"`
}

func main() {
	var in seedInput
	flag.StringVar(&in.Email, "email", "", "admin email")
	flag.StringVar(&in.Name, "name", "", "admin display name")
	flag.StringVar(&in.Password, "password", "", "initial password (min 12 characters)")
	flag.Parse()

	env := server.SetDefaultEnv()
	logger, err := server.NewLogger(env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(in, logger); err != nil {
		logger.Error("Failed to seed admin", zap.Error(err))
		os.Exit(1)
	}
}

func run(in seedInput, logger *zap.Logger) error {
	in.Email = user.NormalizeEmail(in.Email)
	if err := api.NewValidator().Struct(in); err != nil {
		return err
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manager, err := database.NewManager(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	users := user.NewRepository(manager.DB())
	recorder, err := audit.NewService(audit.NewRepository(manager.DB()), cfg.Audit.NodeID, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := seedAdmin(ctx, users, security.NewHasher(cfg.Auth.BcryptCost), recorder, in)
	if err != nil {
		return err
	}

	logger.Info("Admin created",
		zap.String("id", admin.ID.String()),
		zap.String("email", admin.Email))
	return nil
}

func seedAdmin(ctx context.Context, users user.Repository, hasher *security.Hasher, recorder audit.Recorder, in seedInput) (*user.User, error) {
	if _, err := users.FindByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("an active user with email %s already exists", in.Email)
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, err
	}

	hash, err := hasher.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	admin := &user.User{
		Email:         in.Email,
		Name:          in.Name,
		Role:          user.RoleAdmin,
		PasswordHash:  hash,
		IsActive:      true,
		EmailVerified: true,
		Metadata:      map[string]interface{}{"source": "seed"},
	}
	if err := users.Create(ctx, admin); err != nil {
		return nil, err
	}

	recorder.Record(ctx, audit.Event{
		UserID:   &admin.ID,
		Action:   audit.ActionSeedAdmin,
		Table:    "users",
		RecordID: admin.ID.String(),
		New:      map[string]interface{}{"email": admin.Email, "role": admin.Role},
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	return admin, nil
}
