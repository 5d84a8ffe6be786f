// Package workflow holds the proposal lifecycle rules: which transition may
// run from which status, who may run it, and which proposals a caller sees.
// It has no storage dependencies; the service layer loads, asks, then writes.
package workflow

import (
	"slices"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"
)

type Transition string

const (
	Create          Transition = "create"
	Edit            Transition = "edit"
	Delete          Transition = "delete"
	SubmitInternal  Transition = "submit_internal"
	ApproveInternal Transition = "approve_internal"
	Open            Transition = "open"
	Withdraw        Transition = "withdraw"
	Consent         Transition = "consent"
	Approve         Transition = "approve"
	Reject          Transition = "reject"
	SubmitPublic    Transition = "submit_public"
	Rate            Transition = "rate"
	Remark          Transition = "remark"
	Publish         Transition = "publish"
)

// Actor is the authenticated caller as resolved by the identity provider.
// The zero value is an anonymous caller.
type Actor struct {
	UserID uint
	Role   model.UserRole
}

func (a Actor) Authenticated() bool { return a.UserID != 0 }

func (a Actor) IsAdmin() bool { return a.Authenticated() && a.Role == model.Admin }

type actorRule int

const (
	anyUser actorRule = iota
	authorOnly
	adminOnly
	authorOrAdmin
)

type rule struct {
	from []model.ProposalStatus
	// actor applies regardless of status; byStatus overrides it per status.
	actor    actorRule
	byStatus map[model.ProposalStatus]actorRule
	// to is the status after success. Empty means the status is kept, or
	// (for approve) decided by the consensus threshold.
	to model.ProposalStatus
}

var rules = map[Transition]rule{
	Edit:            {from: []model.ProposalStatus{model.StatusDraft}, actor: authorOnly},
	Delete:          {from: []model.ProposalStatus{model.StatusDraft, model.StatusRejected}, actor: authorOrAdmin},
	SubmitInternal:  {from: []model.ProposalStatus{model.StatusDraft}, actor: authorOnly, to: model.StatusInternalReview},
	ApproveInternal: {from: []model.ProposalStatus{model.StatusInternalReview}, actor: adminOnly},
	Open:            {from: []model.ProposalStatus{model.StatusInternalReview}, actor: adminOnly, to: model.StatusOpen},
	Withdraw:        {from: []model.ProposalStatus{model.StatusOpen}, actor: adminOnly, to: model.StatusDraft},
	Consent:         {from: []model.ProposalStatus{model.StatusOpen}, actor: anyUser},
	Approve:         {from: []model.ProposalStatus{model.StatusOpen, model.StatusInternalReview}, actor: adminOnly},
	Reject:          {from: []model.ProposalStatus{model.StatusInternalReview, model.StatusOpen}, actor: adminOnly, to: model.StatusRejected},
	SubmitPublic:    {from: []model.ProposalStatus{model.StatusApproved}, actor: adminOnly, to: model.StatusPublicReview},
	Publish:         {from: []model.ProposalStatus{model.StatusApproved}, actor: adminOnly, to: model.StatusPublished},
	Rate: {
		from:     []model.ProposalStatus{model.StatusInternalReview, model.StatusPublicReview},
		byStatus: map[model.ProposalStatus]actorRule{model.StatusInternalReview: adminOnly, model.StatusPublicReview: anyUser},
	},
	Remark: {
		from:     []model.ProposalStatus{model.StatusInternalReview, model.StatusPublicReview},
		byStatus: map[model.ProposalStatus]actorRule{model.StatusInternalReview: adminOnly, model.StatusPublicReview: anyUser},
	},
}

// Transitions lists every transition that acts on an existing proposal, in
// lifecycle order.
var Transitions = []Transition{
	Edit, Delete, SubmitInternal, ApproveInternal, Open, Withdraw, Consent,
	Approve, Reject, SubmitPublic, Rate, Remark, Publish,
}

// CanTransition checks the precondition table for t. It returns nil when
// actor may run t on p, otherwise a *util.RuleError classified as
// ErrForbidden or ErrInvalidState.
func CanTransition(p *model.Proposal, actor Actor, t Transition) error {
	if !actor.Authenticated() {
		return util.Forbiddenf("authentication required to %s a proposal", t)
	}
	if t == Create {
		return nil
	}
	r, ok := rules[t]
	if !ok {
		return util.Invalidf("unknown transition %q", t)
	}
	if r.actor == adminOnly && r.byStatus == nil && !actor.IsAdmin() {
		return util.Forbiddenf("Admins only")
	}
	if !slices.Contains(r.from, p.Status) {
		return util.InvalidStatef(string(p.Status), "cannot %s a proposal in status %s", t, p.Status)
	}

	need := r.actor
	if r.byStatus != nil {
		need = r.byStatus[p.Status]
	}
	switch need {
	case authorOnly:
		if p.AuthorID != actor.UserID {
			return util.Forbiddenf("Only author can %s", t)
		}
	case adminOnly:
		if !actor.IsAdmin() {
			if r.byStatus != nil {
				return util.Forbiddenf("Only admins can %s proposals in %s", t, p.Status)
			}
			return util.Forbiddenf("Admins only")
		}
	case authorOrAdmin:
		if p.AuthorID != actor.UserID && !actor.IsAdmin() {
			return util.Forbiddenf("Unauthorized")
		}
	}
	return nil
}

// Target returns the fixed destination status of t, if it has one.
func Target(t Transition) (model.ProposalStatus, bool) {
	r, ok := rules[t]
	if !ok || r.to == "" {
		return "", false
	}
	return r.to, true
}

// Available lists the transitions actor could attempt on p right now,
// ignoring count-based gates such as the open threshold.
func Available(p *model.Proposal, actor Actor) []Transition {
	var out []Transition
	for _, t := range Transitions {
		if CanTransition(p, actor, t) == nil {
			out = append(out, t)
		}
	}
	return out
}
