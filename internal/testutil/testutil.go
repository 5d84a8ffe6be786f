// Package testutil provides an isolated in-memory database for tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"rulebook_backend/internal/model"
	"rulebook_backend/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// DB returns a freshly migrated sqlite database private to tb.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("test db handle: %v", err)
	}
	// one connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	return db
}

// CreateUser inserts a user with the given role and returns it.
func CreateUser(tb testing.TB, db *gorm.DB, username string, role model.UserRole) *model.User {
	tb.Helper()
	user := &model.User{
		Username:   username,
		Role:       role,
		MemberCode: fmt.Sprintf("T-%s", username),
		FullName:   strings.ToUpper(username[:1]) + username[1:],
	}
	if err := db.Create(user).Error; err != nil {
		tb.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// CreateLesson inserts a lesson and returns it.
func CreateLesson(tb testing.TB, db *gorm.DB, level, titleEn, contentEn string, order int) *model.Lesson {
	tb.Helper()
	lesson := &model.Lesson{
		Level:   level,
		Title:   model.LocalizedText{En: titleEn, Hi: titleEn + " (hi)"},
		Content: model.LocalizedText{En: contentEn, Hi: contentEn + " (hi)"},
		Order:   order,
	}
	if err := db.Create(lesson).Error; err != nil {
		tb.Fatalf("create lesson %s: %v", titleEn, err)
	}
	return lesson
}
