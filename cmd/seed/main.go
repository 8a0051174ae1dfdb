package main

import (
	"context"
	"os"
	"strings"

	"github.com/Baaaki/heartscan/internal/config"
	"github.com/Baaaki/heartscan/internal/database"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/utils"
	"github.com/Baaaki/heartscan/pkg/logger"
	"go.uber.org/zap"
)

type account struct {
	role          models.Role
	emailVar      string
	passwordVar   string
	requiredByEnv bool
}

var accounts = []account{
	{role: models.RoleAdmin, emailVar: "ADMIN_EMAIL", passwordVar: "ADMIN_PASSWORD", requiredByEnv: true},
	{role: models.RoleModerator, emailVar: "MODERATOR_EMAIL", passwordVar: "MODERATOR_PASSWORD"},
}

func main() {
	cfg := config.Load()
	if err := logger.Init(!cfg.IsProduction()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Log.Fatal("DATABASE_URL is required")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()
	userRepo := repository.NewUserRepository(db)

	var creator *models.User
	for _, acc := range accounts {
		email := strings.ToLower(strings.TrimSpace(os.Getenv(acc.emailVar)))
		password := os.Getenv(acc.passwordVar)
		if email == "" || password == "" {
			if acc.requiredByEnv {
				logger.Log.Fatal("Missing environment variables",
					zap.String("email_var", acc.emailVar),
					zap.String("password_var", acc.passwordVar),
				)
			}
			logger.Log.Info("Skipping optional account", zap.String("role", string(acc.role)))
			continue
		}

		user, err := seedAccount(ctx, userRepo, acc.role, email, password, creator)
		if err != nil {
			logger.Log.Fatal("Failed to seed account",
				zap.String("role", string(acc.role)),
				zap.Error(err),
			)
		}
		if acc.role == models.RoleAdmin {
			creator = user
		}
	}
}

// seedAccount creates the account unless the email is already taken.
func seedAccount(ctx context.Context, repo *repository.UserRepository, role models.Role, email, password string, creator *models.User) (*models.User, error) {
	existing, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Log.Info("Account already exists",
			zap.String("email", existing.Email),
			zap.String("role", string(existing.Role)),
		)
		return existing, nil
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if creator != nil {
		user.CreatedBy = &creator.ID
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	logger.Log.Info("Account created",
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}
