package service

import (
	"context"
	"strings"
	"time"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/util"
	"rulebook_backend/pkg/logger"

	"go.uber.org/zap"
)

type LessonService struct {
	Lessons       LessonStore
	Cache         LessonCache
	changeSummary string
	now           func() time.Time
}

func NewLessonService(lessons LessonStore, cache LessonCache, cfg config.WorkflowConfig) *LessonService {
	summary := strings.TrimSpace(cfg.ChangeSummary)
	if summary == "" {
		summary = config.DefaultChangeSummary
	}
	if cache == nil {
		cache = repository.NopLessonCache{}
	}
	return &LessonService{
		Lessons:       lessons,
		Cache:         cache,
		changeSummary: summary,
		now:           time.Now,
	}
}

// PublishEffect reports what a published proposal did to the lesson store.
type PublishEffect struct {
	Action   model.ProposalAction `json:"action"`
	LessonID string               `json:"lessonId"`
	Lesson   *model.Lesson        `json:"lesson,omitempty"`
}

// LessonSeed is one entry of a bulk seed payload.
type LessonSeed struct {
	Level   string              `json:"level" yaml:"level"`
	Title   model.LocalizedText `json:"title" yaml:"title"`
	Content model.LocalizedText `json:"content" yaml:"content"`
}

// List returns all lessons in sidebar order. The result is served from the
// cache when it is warm.
func (s *LessonService) List(ctx context.Context) ([]model.Lesson, error) {
	lessons, generation, ok := s.Cache.Get(ctx)
	if ok {
		return lessons, nil
	}
	lessons, err := s.Lessons.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, generation, lessons); err != nil {
		logger.Log.Warn("cache lesson list failed", zap.Error(err))
	}
	return lessons, nil
}

func (s *LessonService) Get(ctx context.Context, id string) (*model.Lesson, error) {
	return s.Lessons.FindByID(ctx, id)
}

// Seed bulk-inserts lessons into an empty store. Order follows the input.
func (s *LessonService) Seed(ctx context.Context, seeds []LessonSeed) (int, error) {
	total, err := s.Lessons.Count(ctx)
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return 0, util.ErrLessonStoreSeeded
	}

	lessons := make([]model.Lesson, 0, len(seeds))
	for i, seed := range seeds {
		if strings.TrimSpace(seed.Title.En) == "" {
			return 0, util.Invalidf("lesson %d: title.en is required", i)
		}
		lessons = append(lessons, model.Lesson{
			Level:   seed.Level,
			Title:   seed.Title,
			Content: seed.Content,
			Order:   i,
		})
	}
	if err := s.Lessons.CreateBatch(ctx, lessons); err != nil {
		return 0, err
	}
	s.InvalidateCache(ctx)

	logger.Log.Info("lessons seeded", zap.Int("count", len(lessons)))
	return len(lessons), nil
}

// ApplyProposal performs the lesson side of publishing p. Edit and delete
// require the referenced lesson to exist.
func (s *LessonService) ApplyProposal(ctx context.Context, p *model.Proposal) (*PublishEffect, error) {
	effect := &PublishEffect{Action: p.Action}

	switch p.Action {
	case model.ActionAdd:
		lesson := &model.Lesson{
			Level:   p.Level,
			Title:   p.Title,
			Content: p.Content,
			Order:   p.Order,
		}
		if err := s.Lessons.Create(ctx, lesson); err != nil {
			return nil, err
		}
		effect.LessonID = lesson.ID
		effect.Lesson = lesson

	case model.ActionEdit:
		id, err := originalLesson(p)
		if err != nil {
			return nil, err
		}
		current, err := s.Lessons.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		entry := &model.LessonHistoryEntry{
			Title:         current.Title,
			Content:       current.Content,
			ApprovedAt:    s.now(),
			ChangeSummary: s.changeSummary,
			ProposalID:    p.ID,
		}
		updated, err := s.Lessons.Update(ctx, id, p.Title, p.Content, entry)
		if err != nil {
			return nil, err
		}
		effect.LessonID = id
		effect.Lesson = updated

	case model.ActionDelete:
		id, err := originalLesson(p)
		if err != nil {
			return nil, err
		}
		if err := s.Lessons.Delete(ctx, id); err != nil {
			return nil, err
		}
		effect.LessonID = id

	default:
		return nil, util.Invalidf("unknown proposal action %q", p.Action)
	}
	return effect, nil
}

func (s *LessonService) InvalidateCache(ctx context.Context) {
	if err := s.Cache.Invalidate(ctx); err != nil {
		logger.Log.Warn("invalidate lesson cache failed", zap.Error(err))
	}
}

func originalLesson(p *model.Proposal) (string, error) {
	if p.OriginalLessonID == nil || *p.OriginalLessonID == "" {
		return "", util.Invalidf("proposal %s has no original lesson", p.ID)
	}
	return *p.OriginalLessonID, nil
}
