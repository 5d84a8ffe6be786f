package service

import (
	"context"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/workflow"
)

// ProposalStore persists proposal documents. It enforces no workflow rules;
// Save must be atomic for a single proposal.
type ProposalStore interface {
	Create(ctx context.Context, p *model.Proposal) error
	FindByID(ctx context.Context, id string) (*model.Proposal, error)
	Save(ctx context.Context, p *model.Proposal) error
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, scope workflow.Scope) ([]model.Proposal, error)
}

// LessonStore persists the canonical lesson documents.
type LessonStore interface {
	Create(ctx context.Context, lesson *model.Lesson) error
	CreateBatch(ctx context.Context, lessons []model.Lesson) error
	FindByID(ctx context.Context, id string) (*model.Lesson, error)
	Update(ctx context.Context, id string, title, content model.LocalizedText, push *model.LessonHistoryEntry) (*model.Lesson, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]model.Lesson, error)
	Count(ctx context.Context) (int64, error)
}

// UserDirectory is the read side of the user store the workflow needs.
type UserDirectory interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
	CountAdmins(ctx context.Context) (int, error)
	CountAdminsAmong(ctx context.Context, ids []uint) (int, error)
}

// RoleLookup returns the current records of the given users; removed users
// are absent from the result.
type RoleLookup interface {
	FindByIDs(ctx context.Context, ids []uint) ([]model.User, error)
}

// Transactor runs fn in a transaction; stores called with the ctx passed to
// fn take part in it.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProposalNotifier is told about every committed proposal change.
type ProposalNotifier interface {
	Notify(ctx context.Context, p *model.Proposal, t workflow.Transition, actor workflow.Actor)
}

// LessonCache caches the public lesson list. Get also reports the cache
// generation it looked at; Set stores under that generation, so a list read
// before an Invalidate never becomes visible after it.
type LessonCache interface {
	Get(ctx context.Context) (lessons []model.Lesson, generation int64, ok bool)
	Set(ctx context.Context, generation int64, lessons []model.Lesson) error
	Invalidate(ctx context.Context) error
}
