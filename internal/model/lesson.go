package model

import (
	"time"

	"gorm.io/datatypes"
)

// LessonHistoryEntry is a snapshot taken right before an edit is applied.
// Entries are only ever appended.
// swagger:model LessonHistoryEntry
type LessonHistoryEntry struct {
	Title         LocalizedText `json:"title"`
	Content       LocalizedText `json:"content"`
	ApprovedAt    time.Time     `json:"approvedAt"`
	ChangeSummary string        `json:"changeSummary"`
	ProposalID    string        `json:"proposalId,omitempty"`
}

// swagger:model Lesson
type Lesson struct {
	UUIDBase

	Level   string                                  `gorm:"size:100;not null;index" json:"level"`
	Title   LocalizedText                           `gorm:"embedded;embeddedPrefix:title_" json:"title"`
	Content LocalizedText                           `gorm:"embedded;embeddedPrefix:content_" json:"content"`
	Order   int                                     `gorm:"column:sort_order;default:0;index" json:"order"`
	History datatypes.JSONSlice[LessonHistoryEntry] `json:"history"`
}

func (Lesson) TableName() string {
	return "lessons"
}
