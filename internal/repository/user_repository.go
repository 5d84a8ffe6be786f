package repository

import (
	"context"
	"errors"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return conn(ctx, r.DB).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := conn(ctx, r.DB).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.NotFoundf("User not found")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *UserRepository) FindByCMSID(ctx context.Context, cmsID string) (*model.User, error) {
	return r.findOne(ctx, "cms_id = ?", cmsID)
}

func (r *UserRepository) FindBySFAID(ctx context.Context, sfaID string) (*model.User, error) {
	return r.findOne(ctx, "sfa_id = ?", sfaID)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	err := conn(ctx, r.DB).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.NotFoundf("User not found")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Count includes soft-deleted users so member codes are never reused.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := conn(ctx, r.DB).Unscoped().Model(&model.User{}).Count(&total).Error
	return total, err
}

func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	var total int64
	err := conn(ctx, r.DB).Model(&model.User{}).Where("role = ?", model.Admin).Count(&total).Error
	return int(total), err
}

// CountAdminsAmong counts how many of ids currently hold the admin role.
func (r *UserRepository) CountAdminsAmong(ctx context.Context, ids []uint) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	err := conn(ctx, r.DB).Model(&model.User{}).
		Where("id IN ? AND role = ?", ids, model.Admin).
		Count(&total).Error
	return int(total), err
}

func (r *UserRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []model.User
	err := conn(ctx, r.DB).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := conn(ctx, r.DB).Order("created_at desc").Find(&users).Error
	return users, err
}

func (r *UserRepository) UpdateRole(ctx context.Context, id uint, role model.UserRole) (*model.User, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := conn(ctx, r.DB).Model(user).Update("role", role).Error; err != nil {
		return nil, err
	}
	user.Role = role
	return user, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return conn(ctx, r.DB).Model(&model.User{}).Where("id = ?", id).Update("password", hash).Error
}
