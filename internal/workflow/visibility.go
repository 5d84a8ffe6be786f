package workflow

import (
	"slices"

	"rulebook_backend/internal/model"
)

var (
	publicStatuses = []model.ProposalStatus{
		model.StatusOpen,
		model.StatusApproved,
		model.StatusPublicReview,
	}
	adminStatuses = []model.ProposalStatus{
		model.StatusOpen,
		model.StatusApproved,
		model.StatusPublished,
		model.StatusInternalReview,
		model.StatusPublicReview,
	}
)

// Scope describes which proposals a caller may list: any status in
// Statuses, plus everything authored by AuthorID when it is non-zero.
type Scope struct {
	Statuses []model.ProposalStatus
	AuthorID uint
}

func VisibilityScope(actor Actor) Scope {
	switch {
	case actor.IsAdmin():
		return Scope{Statuses: slices.Clone(adminStatuses), AuthorID: actor.UserID}
	case actor.Authenticated():
		return Scope{Statuses: slices.Clone(publicStatuses), AuthorID: actor.UserID}
	default:
		return Scope{Statuses: slices.Clone(publicStatuses)}
	}
}

func (s Scope) Allows(p *model.Proposal) bool {
	if s.AuthorID != 0 && p.AuthorID == s.AuthorID {
		return true
	}
	return slices.Contains(s.Statuses, p.Status)
}

func CanView(p *model.Proposal, actor Actor) bool {
	return VisibilityScope(actor).Allows(p)
}
