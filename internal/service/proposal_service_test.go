package service_test

import (
	"context"
	"strings"
	"testing"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/testutil"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	users     *repository.UserRepository
	lessons   *repository.LessonRepository
	proposals *repository.ProposalRepository
	cache     *countingCache
	svc       *service.ProposalService
}

func newFixture(t *testing.T, cfg config.WorkflowConfig) *fixture {
	t.Helper()
	db := testutil.DB(t)
	f := &fixture{
		db:        db,
		users:     repository.NewUserRepository(db),
		lessons:   repository.NewLessonRepository(db),
		proposals: repository.NewProposalRepository(db),
		cache:     &countingCache{},
	}
	lessonSvc := service.NewLessonService(f.lessons, f.cache, cfg)
	f.svc = service.NewProposalService(f.proposals, f.users, lessonSvc, repository.NewTxManager(db), cfg)
	return f
}

func (f *fixture) actor(t *testing.T, username string, role model.UserRole) workflow.Actor {
	u := testutil.CreateUser(t, f.db, username, role)
	return workflow.Actor{UserID: u.ID, Role: u.Role}
}

func ptr[T any](v T) *T { return &v }

// countingCache keeps one lesson list per generation, like the Redis cache,
// and records invalidations.
type countingCache struct {
	generation  int64
	lists       map[int64][]model.Lesson
	invalidated int
}

func (c *countingCache) Get(context.Context) ([]model.Lesson, int64, bool) {
	lessons, ok := c.lists[c.generation]
	return lessons, c.generation, ok
}

func (c *countingCache) Set(_ context.Context, generation int64, lessons []model.Lesson) error {
	if c.lists == nil {
		c.lists = make(map[int64][]model.Lesson)
	}
	c.lists[generation] = lessons
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.generation++
	c.invalidated++
	return nil
}

func editInput(lessonID string) service.ProposalInput {
	return service.ProposalInput{
		Action:           model.ActionEdit,
		OriginalLessonID: ptr(lessonID),
		Title:            model.LocalizedText{En: "Offside (revised)", Hi: "ऑफसाइड"},
		Content:          model.LocalizedText{En: "New wording", Hi: "नया"},
	}
}

// Two admins A and B and a member M take an edit proposal from draft to
// published.
func TestProposalLifecycleWithTwoAdmins(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin-a", model.Admin)
	b := f.actor(t, "admin-b", model.Admin)
	m := f.actor(t, "member", model.Member)
	lesson := testutil.CreateLesson(t, f.db, "Level 1", "Offside", "Old wording", 0)

	p, err := f.svc.Create(ctx, a, editInput(lesson.ID))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, p.Status)
	assert.Equal(t, []uint{a.UserID}, []uint(p.Approvals))
	assert.Equal(t, 2, p.AdminCountAtCreation)
	assert.Equal(t, "Level 1", p.Level)

	_, err = f.svc.SubmitInternal(ctx, p.ID, a)
	require.NoError(t, err)

	_, err = f.svc.Open(ctx, p.ID, a)
	require.ErrorIs(t, err, util.ErrThresholdUnmet)
	assert.Equal(t, 1, util.Details(err)["approvalCount"])
	stored, err := f.proposals.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInternalReview, stored.Status)

	_, progress, err := f.svc.ApproveInternal(ctx, p.ID, b)
	require.NoError(t, err)
	assert.True(t, progress.AllApproved)
	assert.Equal(t, 2, progress.ApprovalCount)

	p, err = f.svc.Open(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, p.Status)
	assert.Empty(t, p.Consents)

	_, agreed, err := f.svc.Consent(ctx, p.ID, m)
	require.NoError(t, err)
	assert.True(t, agreed)

	_, err = f.svc.Withdraw(ctx, p.ID, a)
	require.ErrorIs(t, err, util.ErrInvalidState)

	p, err = f.svc.Approve(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, p.Status)

	res, err := f.svc.Publish(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, res.Proposal.Status)
	assert.Equal(t, lesson.ID, res.Effect.LessonID)

	updated, err := f.lessons.FindByID(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offside (revised)", updated.Title.En)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "Old wording", updated.History[0].Content.En)
	assert.Equal(t, config.DefaultChangeSummary, updated.History[0].ChangeSummary)
	assert.Equal(t, p.ID, updated.History[0].ProposalID)
	assert.Equal(t, 1, f.cache.invalidated)
}

func TestConsentToggles(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	m := f.actor(t, "member", model.Member)
	p := f.openProposal(t, a)

	_, agreed, err := f.svc.Consent(ctx, p.ID, m)
	require.NoError(t, err)
	assert.True(t, agreed)

	p, agreed, err = f.svc.Consent(ctx, p.ID, m)
	require.NoError(t, err)
	assert.False(t, agreed)
	assert.Empty(t, p.Consents)

	p, err = f.svc.Withdraw(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, p.Status)
}

func TestApproveCountsOnlyCurrentAdmins(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin-a", model.Admin)
	b := f.actor(t, "admin-b", model.Admin)
	m := f.actor(t, "member", model.Member)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 2",
		Title:  model.LocalizedText{En: "Handball"},
	})
	require.NoError(t, err)
	_, err = f.svc.SubmitInternal(ctx, p.ID, m)
	require.NoError(t, err)

	// the member's own entry in approvals is not an admin approval
	p, err = f.svc.Approve(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInternalReview, p.Status)

	p, err = f.svc.Approve(ctx, p.ID, b)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, p.Status)
}

func TestApproveThresholdFromConfig(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{ApproveThreshold: 1})
	ctx := context.Background()
	a := f.actor(t, "admin-a", model.Admin)
	f.actor(t, "admin-b", model.Admin)
	m := f.actor(t, "member", model.Member)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 2",
		Title:  model.LocalizedText{En: "Handball"},
	})
	require.NoError(t, err)
	_, err = f.svc.SubmitInternal(ctx, p.ID, m)
	require.NoError(t, err)

	p, err = f.svc.Approve(ctx, p.ID, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, p.Status)

	f.svc.SetApproveThreshold(0)
	assert.Equal(t, 0, f.svc.ApproveThreshold())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	m := f.actor(t, "member", model.Member)

	_, err := f.svc.Create(ctx, m, service.ProposalInput{Action: "rename"})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.Create(ctx, m, service.ProposalInput{Action: model.ActionAdd, Level: "Level 1"})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.Create(ctx, m, service.ProposalInput{Action: model.ActionEdit, Title: model.LocalizedText{En: "x"}})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.Create(ctx, m, editInput("missing"))
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = f.svc.Create(ctx, workflow.Actor{}, service.ProposalInput{Action: model.ActionAdd})
	assert.ErrorIs(t, err, util.ErrForbidden)
}

func TestCreateAddDefaultsOrderToEnd(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	m := f.actor(t, "member", model.Member)
	testutil.CreateLesson(t, f.db, "Level 1", "One", "a", 0)
	testutil.CreateLesson(t, f.db, "Level 1", "Two", "b", 1)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  " Level 3 ",
		Title:  model.LocalizedText{En: "Three"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Order)
	assert.Equal(t, "Level 3", p.Level)
	assert.Nil(t, p.OriginalLessonID)
}

func TestUpdateOnlyByAuthorInDraft(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	m := f.actor(t, "member", model.Member)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 1",
		Title:  model.LocalizedText{En: "Draft"},
	})
	require.NoError(t, err)

	p, err = f.svc.Update(ctx, p.ID, m, service.ProposalUpdate{
		Title: &model.LocalizedText{En: "Better draft", Hi: "बेहतर"},
		Order: ptr(7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Better draft", p.Title.En)
	assert.Equal(t, 7, p.Order)
	assert.Equal(t, "Level 1", p.Level)

	_, err = f.svc.Update(ctx, p.ID, a, service.ProposalUpdate{Level: ptr("Level 9")})
	assert.ErrorIs(t, err, util.ErrForbidden)

	_, err = f.svc.Update(ctx, p.ID, m, service.ProposalUpdate{Title: &model.LocalizedText{Hi: "केवल"}})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.SubmitInternal(ctx, p.ID, m)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, p.ID, m, service.ProposalUpdate{Level: ptr("Level 9")})
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestDeleteProposal(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	m := f.actor(t, "member", model.Member)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 1",
		Title:  model.LocalizedText{En: "Draft"},
	})
	require.NoError(t, err)

	_, err = f.svc.SubmitInternal(ctx, p.ID, m)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(ctx, p.ID, m), util.ErrInvalidState)

	_, err = f.svc.Reject(ctx, p.ID, a, "  duplicate of rule 4  ")
	require.NoError(t, err)
	stored, err := f.proposals.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, stored.Status)
	require.Len(t, stored.Remarks, 1)
	assert.Equal(t, "duplicate of rule 4", stored.Remarks[0].Text)

	require.NoError(t, f.svc.Delete(ctx, p.ID, a))
	_, err = f.proposals.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestRateAndRemark(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	m := f.actor(t, "member", model.Member)
	p := f.approvedProposal(t, a)

	_, err := f.svc.Rate(ctx, p.ID, a, 4)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	_, err = f.svc.SubmitPublic(ctx, p.ID, a)
	require.NoError(t, err)

	_, err = f.svc.Rate(ctx, p.ID, m, 0)
	assert.ErrorIs(t, err, util.ErrValidation)
	_, err = f.svc.Rate(ctx, p.ID, m, 6)
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.Rate(ctx, p.ID, m, 2)
	require.NoError(t, err)
	p, err = f.svc.Rate(ctx, p.ID, m, 5)
	require.NoError(t, err)
	require.Len(t, p.Ratings, 1)
	assert.Equal(t, 5, p.Ratings[0].Value)

	_, err = f.svc.Remark(ctx, p.ID, m, "   ")
	assert.ErrorIs(t, err, util.ErrValidation)
	p, err = f.svc.Remark(ctx, p.ID, m, "Clearer now")
	require.NoError(t, err)
	require.Len(t, p.Remarks, 1)
	assert.Equal(t, m.UserID, p.Remarks[0].UserID)

	// public review is not publishable
	_, err = f.svc.Publish(ctx, p.ID, a)
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestPublishAdd(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	p := f.approvedProposal(t, a)

	res, err := f.svc.Publish(ctx, p.ID, a)
	require.NoError(t, err)
	require.NotNil(t, res.Effect.Lesson)
	assert.Equal(t, model.ActionAdd, res.Effect.Action)

	lesson, err := f.lessons.FindByID(ctx, res.Effect.LessonID)
	require.NoError(t, err)
	assert.Equal(t, "Handball", lesson.Title.En)
	assert.Empty(t, lesson.History)

	_, err = f.svc.Publish(ctx, p.ID, a)
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestPublishDelete(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	lesson := testutil.CreateLesson(t, f.db, "Level 1", "Obsolete", "Old rule", 0)

	p, err := f.svc.Create(ctx, a, service.ProposalInput{
		Action:           model.ActionDelete,
		OriginalLessonID: ptr(lesson.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "Obsolete", p.Title.En)
	assert.Equal(t, "Old rule", p.Content.En)

	f.approve(t, p.ID, a)
	_, err = f.svc.Publish(ctx, p.ID, a)
	require.NoError(t, err)

	_, err = f.lessons.FindByID(ctx, lesson.ID)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestPublishMissingLessonKeepsProposalApproved(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	lesson := testutil.CreateLesson(t, f.db, "Level 1", "Offside", "Old wording", 0)

	p, err := f.svc.Create(ctx, a, editInput(lesson.ID))
	require.NoError(t, err)
	f.approve(t, p.ID, a)
	require.NoError(t, f.lessons.Delete(ctx, lesson.ID))

	_, err = f.svc.Publish(ctx, p.ID, a)
	require.ErrorIs(t, err, util.ErrNotFound)

	stored, err := f.proposals.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
	assert.Zero(t, f.cache.invalidated)
}

func TestVisibility(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)
	m := f.actor(t, "member", model.Member)
	other := f.actor(t, "other", model.Member)

	draft, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 1",
		Title:  model.LocalizedText{En: "Mine"},
	})
	require.NoError(t, err)
	open := f.openProposal(t, a)

	_, err = f.svc.Get(ctx, draft.ID, other)
	assert.ErrorIs(t, err, util.ErrNotFound)
	_, err = f.svc.Get(ctx, draft.ID, a)
	assert.ErrorIs(t, err, util.ErrNotFound)
	got, err := f.svc.Get(ctx, draft.ID, m)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, got.ID)

	list, err := f.svc.List(ctx, workflow.Actor{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	list, err = f.svc.List(ctx, m)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func (f *fixture) approve(t *testing.T, id string, admin workflow.Actor) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SubmitInternal(ctx, id, admin)
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, id, admin)
	require.NoError(t, err)
	p, err := f.svc.Approve(ctx, id, admin)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, p.Status)
}

// openProposal creates an add proposal by the only admin and opens it.
func (f *fixture) openProposal(t *testing.T, admin workflow.Actor) *model.Proposal {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.Create(ctx, admin, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 2",
		Title:  model.LocalizedText{En: "Handball"},
	})
	require.NoError(t, err)
	_, err = f.svc.SubmitInternal(ctx, p.ID, admin)
	require.NoError(t, err)
	p, err = f.svc.Open(ctx, p.ID, admin)
	require.NoError(t, err)
	return p
}

func (f *fixture) approvedProposal(t *testing.T, admin workflow.Actor) *model.Proposal {
	t.Helper()
	p, err := f.svc.Create(context.Background(), admin, service.ProposalInput{
		Action: model.ActionAdd,
		Level:  "Level 2",
		Title:  model.LocalizedText{En: "Handball"},
	})
	require.NoError(t, err)
	f.approve(t, p.ID, admin)
	p, err = f.proposals.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	return p
}

func TestCommittedChangesAreNotified(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	events := &recordingNotifier{}
	f.svc.Events = events
	a := f.actor(t, "admin", model.Admin)

	p := f.approvedProposal(t, a)
	_, err := f.svc.Publish(ctx, p.ID, a)
	require.NoError(t, err)

	// refused transitions are not announced
	_, err = f.svc.Publish(ctx, p.ID, a)
	require.Error(t, err)

	assert.Equal(t, []workflow.Transition{
		workflow.Create,
		workflow.SubmitInternal,
		workflow.Open,
		workflow.Approve,
		workflow.Publish,
	}, events.events)
}

func TestUnknownProposalIsNotFoundBeforeInputChecks(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	a := f.actor(t, "admin", model.Admin)

	_, err := f.svc.Rate(ctx, "missing", a, 9)
	assert.ErrorIs(t, err, util.ErrNotFound)
	_, err = f.svc.Remark(ctx, "missing", a, "  ")
	assert.ErrorIs(t, err, util.ErrNotFound)
	_, err = f.svc.Reject(ctx, "missing", a, strings.Repeat("x", 5001))
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestUpdateDeleteProposalKeepsLessonSnapshot(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ctx := context.Background()
	m := f.actor(t, "member", model.Member)
	lesson := testutil.CreateLesson(t, f.db, "Level 1", "Offside", "Old wording", 3)

	p, err := f.svc.Create(ctx, m, service.ProposalInput{
		Action:           model.ActionDelete,
		OriginalLessonID: ptr(lesson.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "Offside", p.Title.En)

	_, err = f.svc.Update(ctx, p.ID, m, service.ProposalUpdate{Title: &model.LocalizedText{En: "Something else"}})
	assert.ErrorIs(t, err, util.ErrValidation)
	_, err = f.svc.Update(ctx, p.ID, m, service.ProposalUpdate{Level: ptr("Level 9")})
	assert.ErrorIs(t, err, util.ErrValidation)

	stored, err := f.proposals.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offside", stored.Title.En)
	assert.Equal(t, "Old wording", stored.Content.En)
	assert.Equal(t, "Level 1", stored.Level)
}
