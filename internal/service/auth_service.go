package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"regexp"
	"strings"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"
	"rulebook_backend/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	cmsIDPattern = regexp.MustCompile(`^[A-Z]{3,4}\d{4}$`)
	sfaIDPattern = regexp.MustCompile(`^SFA\d{4}$`)
)

const minPasswordLength = 6

type AuthService struct {
	UserRepo *repository.UserRepository
	Tx       Transactor
	Cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, tx Transactor, cfg *config.Config) *AuthService {
	return &AuthService{
		UserRepo: userRepo,
		Tx:       tx,
		Cfg:      cfg,
	}
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	FullName    string `json:"fullName"`
	Headquarter string `json:"headquarter"`
	CMSID       string `json:"cmsId"`
	SFAID       string `json:"sfaId"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string            `json:"token"`
	User  model.UserSummary `json:"user"`
}

// Register creates a member account. The very first account becomes admin.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, util.Invalidf("username is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, util.Invalidf("password must be at least %d characters", minPasswordLength)
	}
	if req.CMSID != "" && !cmsIDPattern.MatchString(req.CMSID) {
		return nil, util.Invalidf("Invalid CMS ID format (e.g., ABC1234 or ABCD1234)")
	}
	if req.SFAID != "" && !sfaIDPattern.MatchString(req.SFAID) {
		return nil, util.Invalidf("Invalid SFA ID format (e.g., SFA1234)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:    req.Username,
		Password:    string(hashedPassword),
		FullName:    strings.TrimSpace(req.FullName),
		Headquarter: strings.TrimSpace(req.Headquarter),
	}
	if req.CMSID != "" {
		user.CMSID = &req.CMSID
	}
	if req.SFAID != "" {
		user.SFAID = &req.SFAID
	}

	err = s.Tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.ensureUnique(ctx, req); err != nil {
			return err
		}
		count, err := s.UserRepo.Count(ctx)
		if err != nil {
			return err
		}
		user.Role = model.Member
		if count == 0 {
			user.Role = model.Admin
		}
		user.MemberCode = model.MemberCodeFor(count + 1)
		return s.UserRepo.Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("user registered",
		zap.String("username", user.Username),
		zap.String("memberCode", user.MemberCode),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

func (s *AuthService) ensureUnique(ctx context.Context, req RegisterRequest) error {
	if taken, err := exists(s.UserRepo.FindByUsername(ctx, req.Username)); err != nil {
		return err
	} else if taken {
		return util.ErrUsernameTaken
	}
	if req.CMSID != "" {
		if taken, err := exists(s.UserRepo.FindByCMSID(ctx, req.CMSID)); err != nil {
			return err
		} else if taken {
			return util.Invalidf("CMS ID already registered")
		}
	}
	if req.SFAID != "" {
		if taken, err := exists(s.UserRepo.FindBySFAID(ctx, req.SFAID)); err != nil {
			return err
		} else if taken {
			return util.Invalidf("SFA ID already registered")
		}
	}
	return nil
}

func exists(_ *model.User, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.UserRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, util.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, util.ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(user, s.Cfg.JWT.Secret, s.Cfg.JWT.ExpireTime)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: user.Summary()}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	user, err := s.UserRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Password == "" {
		return util.Invalidf("account has no password set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return util.Invalidf("Incorrect current password")
	}
	if len(next) < minPasswordLength {
		return util.Invalidf("password must be at least %d characters", minPasswordLength)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.UserRepo.UpdatePassword(ctx, userID, string(hashedPassword))
}

// Promote grants admin to username when masterSecret matches the configured
// secret. An empty configured secret disables promotion.
func (s *AuthService) Promote(ctx context.Context, username, masterSecret string) (*model.User, error) {
	configured := s.Cfg.Auth.MasterSecret
	if configured == "" || subtle.ConstantTimeCompare([]byte(configured), []byte(masterSecret)) != 1 {
		return nil, util.Forbiddenf("Invalid Master Secret")
	}
	return s.PromoteUser(ctx, username)
}

// PromoteUser grants admin without a secret; used by the CLI.
func (s *AuthService) PromoteUser(ctx context.Context, username string) (*model.User, error) {
	user, err := s.UserRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	user, err = s.UserRepo.UpdateRole(ctx, user.ID, model.Admin)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("user promoted to admin", zap.String("username", user.Username))
	return user, nil
}

// ResolveActor turns verified token claims into a workflow actor. The role is
// read from the user store so demotions apply before the token expires.
func (s *AuthService) ResolveActor(ctx context.Context, claims *util.Claims) (workflow.Actor, error) {
	if claims == nil {
		return workflow.Actor{}, nil
	}
	user, err := s.UserRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return workflow.Actor{}, err
	}
	return workflow.Actor{UserID: user.ID, Role: user.Role}, nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, claims *util.Claims) (*model.User, error) {
	if claims == nil {
		return nil, util.ErrForbidden
	}
	return s.UserRepo.FindByID(ctx, claims.UserID)
}
