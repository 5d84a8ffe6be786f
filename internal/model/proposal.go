package model

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

type ProposalAction string

const (
	ActionAdd    ProposalAction = "add"
	ActionEdit   ProposalAction = "edit"
	ActionDelete ProposalAction = "delete"
)

func (a ProposalAction) Valid() bool {
	return a == ActionAdd || a == ActionEdit || a == ActionDelete
}

type ProposalStatus string

const (
	StatusDraft          ProposalStatus = "draft"
	StatusInternalReview ProposalStatus = "internal_review"
	StatusOpen           ProposalStatus = "open"
	StatusApproved       ProposalStatus = "approved"
	StatusRejected       ProposalStatus = "rejected"
	StatusPublished      ProposalStatus = "published"
	StatusPublicReview   ProposalStatus = "public_review"
)

// AllProposalStatuses lists every status a proposal row may hold.
var AllProposalStatuses = []ProposalStatus{
	StatusDraft,
	StatusInternalReview,
	StatusOpen,
	StatusApproved,
	StatusRejected,
	StatusPublished,
	StatusPublicReview,
}

func (s ProposalStatus) Terminal() bool {
	return s == StatusPublished || s == StatusRejected
}

// swagger:model ProposalRating
type ProposalRating struct {
	UserID  uint      `json:"userId"`
	Value   int       `json:"value"`
	RatedAt time.Time `json:"ratedAt"`
}

// swagger:model ProposalRemark
type ProposalRemark struct {
	UserID    uint      `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Proposal is a pending add/edit/delete of a lesson. The side collections
// live in JSON columns so a transition is a single-row update.
// swagger:model Proposal
type Proposal struct {
	UUIDBase

	OriginalLessonID *string        `gorm:"type:varchar(36);index" json:"originalLessonId"`
	Action           ProposalAction `gorm:"size:10;not null" json:"action"`

	Level   string        `gorm:"size:100" json:"level"`
	Title   LocalizedText `gorm:"embedded;embeddedPrefix:title_" json:"title"`
	Content LocalizedText `gorm:"embedded;embeddedPrefix:content_" json:"content"`
	Order   int           `gorm:"column:sort_order;default:0" json:"order"`

	AuthorID uint  `gorm:"index;not null" json:"authorId"`
	Author   *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Status    ProposalStatus                      `gorm:"size:20;default:'draft';index" json:"status"`
	Approvals datatypes.JSONSlice[uint]           `json:"approvals"`
	Consents  datatypes.JSONSlice[uint]           `json:"consents"`
	Ratings   datatypes.JSONSlice[ProposalRating] `json:"ratings"`
	Remarks   datatypes.JSONSlice[ProposalRemark] `json:"remarks"`

	AdminCountAtCreation int `gorm:"default:1" json:"adminCountAtCreation"`
	Version              int `gorm:"not null;default:1" json:"version"`
}

func (Proposal) TableName() string {
	return "proposals"
}

func (p *Proposal) HasApproval(userID uint) bool {
	return slices.Contains(p.Approvals, userID)
}

// AddApproval records userID once; it reports whether the set changed.
func (p *Proposal) AddApproval(userID uint) bool {
	if p.HasApproval(userID) {
		return false
	}
	p.Approvals = append(p.Approvals, userID)
	return true
}

func (p *Proposal) HasConsent(userID uint) bool {
	return slices.Contains(p.Consents, userID)
}

// ToggleConsent adds or removes userID and returns the new membership.
func (p *Proposal) ToggleConsent(userID uint) bool {
	if i := slices.Index(p.Consents, userID); i >= 0 {
		p.Consents = slices.Delete(p.Consents, i, i+1)
		return false
	}
	p.Consents = append(p.Consents, userID)
	return true
}

// UpsertRating keeps a single rating per user, overwriting an earlier value.
func (p *Proposal) UpsertRating(userID uint, value int, at time.Time) {
	for i := range p.Ratings {
		if p.Ratings[i].UserID == userID {
			p.Ratings[i].Value = value
			p.Ratings[i].RatedAt = at
			return
		}
	}
	p.Ratings = append(p.Ratings, ProposalRating{UserID: userID, Value: value, RatedAt: at})
}

func (p *Proposal) AddRemark(userID uint, text string, at time.Time) {
	p.Remarks = append(p.Remarks, ProposalRemark{UserID: userID, Text: text, CreatedAt: at})
}

// AverageRating returns 0 when nobody has rated yet.
func (p *Proposal) AverageRating() float64 {
	if len(p.Ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range p.Ratings {
		sum += r.Value
	}
	return float64(sum) / float64(len(p.Ratings))
}
