package repository

import (
	"context"
	"errors"
	"time"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"

	"gorm.io/gorm"
)

type ProposalRepository struct {
	DB *gorm.DB
}

func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{DB: db}
}

func (r *ProposalRepository) Create(ctx context.Context, p *model.Proposal) error {
	if p.Version == 0 {
		p.Version = 1
	}
	return conn(ctx, r.DB).Create(p).Error
}

func (r *ProposalRepository) FindByID(ctx context.Context, id string) (*model.Proposal, error) {
	var p model.Proposal
	err := conn(ctx, r.DB).Preload("Author").First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.NotFoundf("Proposal not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes every mutable column of p in one statement, guarded by the
// version p was loaded with. A concurrent writer that saved first makes the
// update match no row and Save returns util.ErrConcurrentUpdate.
func (r *ProposalRepository) Save(ctx context.Context, p *model.Proposal) error {
	now := time.Now()
	res := conn(ctx, r.DB).Model(&model.Proposal{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"level":      p.Level,
			"title_en":   p.Title.En,
			"title_hi":   p.Title.Hi,
			"content_en": p.Content.En,
			"content_hi": p.Content.Hi,
			"sort_order": p.Order,
			"status":     p.Status,
			"approvals":  p.Approvals,
			"consents":   p.Consents,
			"ratings":    p.Ratings,
			"remarks":    p.Remarks,
			"version":    p.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrConcurrentUpdate
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (r *ProposalRepository) Delete(ctx context.Context, id string) error {
	res := conn(ctx, r.DB).Delete(&model.Proposal{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.NotFoundf("Proposal not found")
	}
	return nil
}

// Find lists proposals inside scope, newest first.
func (r *ProposalRepository) Find(ctx context.Context, scope workflow.Scope) ([]model.Proposal, error) {
	var proposals []model.Proposal
	query := conn(ctx, r.DB).Model(&model.Proposal{}).Preload("Author")
	if scope.AuthorID != 0 {
		query = query.Where("status IN ? OR author_id = ?", scope.Statuses, scope.AuthorID)
	} else {
		query = query.Where("status IN ?", scope.Statuses)
	}
	err := query.Order("created_at desc").Find(&proposals).Error
	return proposals, err
}

// CountByStatus reports how many proposals sit in each status.
func (r *ProposalRepository) CountByStatus(ctx context.Context) (map[model.ProposalStatus]int64, error) {
	var rows []struct {
		Status model.ProposalStatus
		Total  int64
	}
	err := conn(ctx, r.DB).Model(&model.Proposal{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.ProposalStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
