package service

import (
	"context"
	"errors"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/utils"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Email     *string
	Password  *string
	Role      *models.Role
	IsBlocked *bool
}

func (u UserUpdate) empty() bool {
	return u.Email == nil && u.Password == nil && u.Role == nil && u.IsBlocked == nil
}

type UserService struct {
	userRepo *repository.UserRepository
}

func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// ParseID converts a path parameter into a UUID, failing with ErrInvalidID.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

// IsStaff reports whether the user may read other users' data.
func IsStaff(user *models.User) bool {
	return user.Role == models.RoleAdmin || user.Role == models.RoleModerator
}

// Resolve loads a user by id. It returns ErrUserNotFound when absent.
func (s *UserService) Resolve(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUser returns a user visible to actor: themselves, or anyone for staff.
func (s *UserService) GetUser(ctx context.Context, actor *models.User, rawID string) (*models.User, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}
	if actor.ID != id && !IsStaff(actor) {
		return nil, ErrForbidden
	}
	return s.Resolve(ctx, id)
}

func (s *UserService) ListUsers(ctx context.Context, filter repository.UserFilter) ([]*models.User, error) {
	if filter.Role != "" && !models.Role(filter.Role).Valid() {
		return nil, validationError("unknown role")
	}

	users, err := s.userRepo.ListUsers(ctx, filter, repository.MaxListSize)
	if err != nil {
		logger.Log.Error("Failed to list users",
			zap.Error(err),
		)
		return nil, err
	}

	logger.Log.Debug("Listed users",
		zap.Int("count", len(users)),
	)
	return users, nil
}

// UpdateUser applies a partial update. Users may change their own email and
// password; role and block flag changes need an admin.
func (s *UserService) UpdateUser(ctx context.Context, actor *models.User, rawID string, update UserUpdate) (*models.User, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}

	isAdmin := actor.Role == models.RoleAdmin
	if actor.ID != id && !isAdmin {
		return nil, ErrForbidden
	}
	if (update.Role != nil || update.IsBlocked != nil) && !isAdmin {
		return nil, ErrForbidden
	}
	if update.empty() {
		return nil, validationError("no fields to update")
	}

	fields := make(map[string]interface{})
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		existing, err := s.userRepo.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, ErrEmailAlreadyExists
		}
		fields["email"] = email
	}
	if update.Password != nil {
		if err := validatePassword(*update.Password); err != nil {
			return nil, err
		}
		hash, err := utils.HashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		fields["password_hash"] = hash
	}
	if update.Role != nil {
		if !update.Role.Valid() {
			return nil, validationError("unknown role")
		}
		fields["role"] = *update.Role
	}
	if update.IsBlocked != nil {
		fields["is_blocked"] = *update.IsBlocked
	}

	found, err := s.userRepo.UpdateFields(ctx, id, fields)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailAlreadyExists
		}
		logger.Log.Error("Failed to update user",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}

	logger.Log.Info("User updated",
		zap.String("user_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.Int("fields", len(fields)),
	)
	return s.Resolve(ctx, id)
}

// SetBlocked blocks or unblocks a user.
func (s *UserService) SetBlocked(ctx context.Context, actor *models.User, rawID string, blocked bool) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}

	found, err := s.userRepo.SetBlocked(ctx, id, blocked)
	if err != nil {
		logger.Log.Error("Failed to change block flag",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return err
	}
	if !found {
		return ErrUserNotFound
	}

	logger.Log.Info("User block flag changed",
		zap.String("user_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.Bool("blocked", blocked),
	)
	return nil
}

// DeleteUser removes the user record only; predictions are kept.
func (s *UserService) DeleteUser(ctx context.Context, actor *models.User, rawID string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}

	found, err := s.userRepo.DeleteUser(ctx, id)
	if err != nil {
		logger.Log.Error("Failed to delete user",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return err
	}
	if !found {
		return ErrUserNotFound
	}

	logger.Log.Info("User deleted",
		zap.String("user_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return nil
}
