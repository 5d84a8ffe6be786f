package model

import "fmt"

type UserRole string

const (
	Member UserRole = "member"
	Admin  UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == Member || r == Admin
}

// swagger:model User
type User struct {
	BaseModel
	MemberCode  string   `gorm:"size:20;uniqueIndex" json:"userId"`
	Username    string   `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Password    string   `gorm:"size:100" json:"-"`
	Role        UserRole `gorm:"size:20;default:'member';index" json:"role"`
	FullName    string   `gorm:"size:150" json:"fullName"`
	Headquarter string   `gorm:"size:150" json:"headquarter"`
	CMSID       *string  `gorm:"size:20;uniqueIndex" json:"cmsId,omitempty"`
	SFAID       *string  `gorm:"size:20;uniqueIndex" json:"sfaId,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == Admin
}

// MemberCodeFor formats the sequential public member code, e.g. SFARB01.
func MemberCodeFor(seq int64) string {
	return fmt.Sprintf("SFARB%02d", seq)
}

// UserSummary is the public projection used on proposals and the member directory.
// swagger:model UserSummary
type UserSummary struct {
	ID          uint     `json:"id"`
	MemberCode  string   `json:"userId"`
	Username    string   `json:"username"`
	FullName    string   `json:"fullName"`
	Headquarter string   `json:"headquarter,omitempty"`
	Role        UserRole `json:"role,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		MemberCode:  u.MemberCode,
		Username:    u.Username,
		FullName:    u.FullName,
		Headquarter: u.Headquarter,
		Role:        u.Role,
	}
}
