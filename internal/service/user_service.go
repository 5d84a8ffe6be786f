package service

import (
	"context"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/util"
	"rulebook_backend/pkg/logger"

	"go.uber.org/zap"
)

// UserService manages accounts and roles.
type UserService struct {
	UserRepo *repository.UserRepository
	Tx       Transactor
}

// NewUserService creates a UserService.
func NewUserService(userRepo *repository.UserRepository, tx Transactor) *UserService {
	return &UserService{
		UserRepo: userRepo,
		Tx:       tx,
	}
}

// PublicMember is the directory entry shown to anonymous visitors.
// swagger:model PublicMember
type PublicMember struct {
	MemberCode  string `json:"userId"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	Headquarter string `json:"headquarter"`
	JoinedAt    string `json:"createdAt"`
}

// GetUsers lists every user, newest first.
func (s *UserService) GetUsers(ctx context.Context) ([]model.User, error) {
	return s.UserRepo.List(ctx)
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	return s.UserRepo.FindByID(ctx, id)
}

// UpdateRole changes a user's role. The last admin cannot be demoted, so the
// open transition always has at least one approver.
func (s *UserService) UpdateRole(ctx context.Context, id uint, role model.UserRole) (*model.User, error) {
	if !role.Valid() {
		return nil, util.Invalidf("Invalid role")
	}

	var user *model.User
	err := s.Tx.Transaction(ctx, func(ctx context.Context) error {
		current, err := s.UserRepo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Role == model.Admin && role != model.Admin {
			admins, err := s.UserRepo.CountAdmins(ctx)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return util.InvalidStatef(string(current.Role), "cannot demote the last admin")
			}
		}
		user, err = s.UserRepo.UpdateRole(ctx, id, role)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("user role changed", zap.Uint("user", id), zap.String("role", string(role)))
	return user, nil
}

// PublicMembers is the directory visible without signing in.
func (s *UserService) PublicMembers(ctx context.Context) ([]PublicMember, error) {
	users, err := s.UserRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]PublicMember, 0, len(users))
	for _, u := range users {
		members = append(members, PublicMember{
			MemberCode:  u.MemberCode,
			Username:    u.Username,
			FullName:    u.FullName,
			Headquarter: u.Headquarter,
			JoinedAt:    u.CreatedAt.Format(util.TimeFormat),
		})
	}
	return members, nil
}
