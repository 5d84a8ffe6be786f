package repository

import (
	"context"
	"errors"
	"time"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"

	"gorm.io/gorm"
)

type LessonRepository struct {
	DB *gorm.DB
}

func NewLessonRepository(db *gorm.DB) *LessonRepository {
	return &LessonRepository{DB: db}
}

func (r *LessonRepository) Create(ctx context.Context, lesson *model.Lesson) error {
	return conn(ctx, r.DB).Create(lesson).Error
}

func (r *LessonRepository) CreateBatch(ctx context.Context, lessons []model.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	return conn(ctx, r.DB).Create(&lessons).Error
}

func (r *LessonRepository) FindByID(ctx context.Context, id string) (*model.Lesson, error) {
	var lesson model.Lesson
	err := conn(ctx, r.DB).First(&lesson, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.NotFoundf("Lesson not found")
	}
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

// Update overwrites the title and content of a lesson. When push is set it
// is appended to the lesson's history in the same statement.
func (r *LessonRepository) Update(ctx context.Context, id string, title, content model.LocalizedText, push *model.LessonHistoryEntry) (*model.Lesson, error) {
	db := conn(ctx, r.DB)
	lesson, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"title_en":   title.En,
		"title_hi":   title.Hi,
		"content_en": content.En,
		"content_hi": content.Hi,
		"updated_at": time.Now(),
	}
	if push != nil {
		lesson.History = append(lesson.History, *push)
		updates["history"] = lesson.History
	}

	if err := db.Model(&model.Lesson{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	lesson.Title = title
	lesson.Content = content
	lesson.UpdatedAt = updates["updated_at"].(time.Time)
	return lesson, nil
}

func (r *LessonRepository) Delete(ctx context.Context, id string) error {
	res := conn(ctx, r.DB).Delete(&model.Lesson{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.NotFoundf("Lesson not found")
	}
	return nil
}

// ListAll returns every lesson ordered by its sidebar position.
func (r *LessonRepository) ListAll(ctx context.Context) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := conn(ctx, r.DB).Order("sort_order asc").Order("created_at asc").Find(&lessons).Error
	return lessons, err
}

func (r *LessonRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := conn(ctx, r.DB).Model(&model.Lesson{}).Count(&total).Error
	return total, err
}
