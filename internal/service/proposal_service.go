package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"
	"rulebook_backend/pkg/logger"
	"rulebook_backend/pkg/monitoring"
	"rulebook_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxRemarkLength = 5000

// ProposalService is the proposal workflow engine. Every operation loads the
// proposal, asks the workflow policy, mutates the in-memory copy and saves it
// once; nothing is written when any step fails.
type ProposalService struct {
	Proposals ProposalStore
	Users     UserDirectory
	Lessons   *LessonService
	Tx        Transactor
	Events    ProposalNotifier

	approveThreshold atomic.Int64
	now              func() time.Time
}

func NewProposalService(proposals ProposalStore, users UserDirectory, lessons *LessonService, tx Transactor, cfg config.WorkflowConfig) *ProposalService {
	s := &ProposalService{
		Proposals: proposals,
		Users:     users,
		Lessons:   lessons,
		Tx:        tx,
		Events:    nopNotifier{},
		now:       time.Now,
	}
	s.approveThreshold.Store(int64(cfg.ApproveThreshold))
	return s
}

// SetApproveThreshold swaps the consensus rule at runtime (config reload).
func (s *ProposalService) SetApproveThreshold(n int) {
	s.approveThreshold.Store(int64(n))
}

func (s *ProposalService) ApproveThreshold() int {
	return int(s.approveThreshold.Load())
}

// ProposalInput is the lesson data carried by a new proposal.
type ProposalInput struct {
	Action           model.ProposalAction `json:"action" binding:"required"`
	OriginalLessonID *string              `json:"originalLessonId"`
	Level            string               `json:"level"`
	Title            model.LocalizedText  `json:"title"`
	Content          model.LocalizedText  `json:"content"`
	Order            *int                 `json:"order"`
}

// ProposalUpdate overwrites the fields that are set and non-empty.
type ProposalUpdate struct {
	Level   *string              `json:"level"`
	Title   *model.LocalizedText `json:"title"`
	Content *model.LocalizedText `json:"content"`
	Order   *int                 `json:"order"`
}

// PublishResult describes what a publish did to the lesson store.
type PublishResult struct {
	Proposal *model.Proposal `json:"proposal"`
	Effect   *PublishEffect  `json:"effect"`
}

func (s *ProposalService) Create(ctx context.Context, actor workflow.Actor, in ProposalInput) (*model.Proposal, error) {
	ctx, span := tracing.Tracer.Start(ctx, "proposal.create")
	defer span.End()

	p, err := s.create(ctx, actor, in)
	s.observe(span, workflow.Create, err)
	return p, err
}

func (s *ProposalService) create(ctx context.Context, actor workflow.Actor, in ProposalInput) (*model.Proposal, error) {
	if err := workflow.CanTransition(nil, actor, workflow.Create); err != nil {
		return nil, err
	}
	if err := s.validateInput(ctx, &in); err != nil {
		return nil, err
	}

	adminCount, err := s.Users.CountAdmins(ctx)
	if err != nil {
		return nil, err
	}

	p := &model.Proposal{
		Action:               in.Action,
		OriginalLessonID:     in.OriginalLessonID,
		Level:                strings.TrimSpace(in.Level),
		Title:                in.Title,
		Content:              in.Content,
		AuthorID:             actor.UserID,
		Status:               model.StatusDraft,
		Approvals:            []uint{actor.UserID},
		Consents:             []uint{},
		Ratings:              []model.ProposalRating{},
		Remarks:              []model.ProposalRemark{},
		AdminCountAtCreation: adminCount,
	}
	if in.Order != nil {
		p.Order = *in.Order
	} else if in.Action == model.ActionAdd {
		total, err := s.Lessons.Lessons.Count(ctx)
		if err != nil {
			return nil, err
		}
		p.Order = int(total)
	}

	if err := s.Proposals.Create(ctx, p); err != nil {
		return nil, err
	}

	logger.Log.Info("proposal created",
		zap.String("proposal", p.ID),
		zap.String("action", string(p.Action)),
		zap.Uint("author", actor.UserID),
	)
	s.Events.Notify(ctx, p, workflow.Create, actor)
	return s.Proposals.FindByID(ctx, p.ID)
}

func (s *ProposalService) validateInput(ctx context.Context, in *ProposalInput) error {
	if !in.Action.Valid() {
		return util.Invalidf("action must be one of add, edit, delete")
	}

	switch in.Action {
	case model.ActionAdd:
		in.OriginalLessonID = nil
		if strings.TrimSpace(in.Level) == "" {
			return util.Invalidf("level is required")
		}
		if strings.TrimSpace(in.Title.En) == "" {
			return util.Invalidf("title.en is required")
		}
	case model.ActionEdit, model.ActionDelete:
		if in.OriginalLessonID == nil || *in.OriginalLessonID == "" {
			return util.Invalidf("originalLessonId is required for %s", in.Action)
		}
		lesson, err := s.Lessons.Lessons.FindByID(ctx, *in.OriginalLessonID)
		if err != nil {
			return err
		}
		if in.Action == model.ActionEdit && strings.TrimSpace(in.Title.En) == "" {
			return util.Invalidf("title.en is required")
		}
		if in.Action == model.ActionDelete {
			// a delete proposal shows what is being removed
			in.Level = lesson.Level
			in.Title = lesson.Title
			in.Content = lesson.Content
		}
		if in.Level == "" {
			in.Level = lesson.Level
		}
		if in.Order == nil {
			order := lesson.Order
			in.Order = &order
		}
	}
	return nil
}

func (s *ProposalService) Update(ctx context.Context, id string, actor workflow.Actor, in ProposalUpdate) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.Edit, func(ctx context.Context, p *model.Proposal) error {
		if p.Action == model.ActionDelete {
			// delete proposals keep the snapshot of the lesson they remove
			if in.Title != nil || in.Content != nil || in.Level != nil || in.Order != nil {
				return util.Invalidf("delete proposals cannot change lesson content")
			}
			return nil
		}
		if in.Title != nil && !in.Title.IsZero() {
			if strings.TrimSpace(in.Title.En) == "" {
				return util.Invalidf("title.en cannot be empty")
			}
			p.Title = *in.Title
		}
		if in.Content != nil && !in.Content.IsZero() {
			p.Content = *in.Content
		}
		if in.Level != nil && strings.TrimSpace(*in.Level) != "" {
			p.Level = strings.TrimSpace(*in.Level)
		}
		if in.Order != nil {
			p.Order = *in.Order
		}
		return nil
	})
}

func (s *ProposalService) Delete(ctx context.Context, id string, actor workflow.Actor) error {
	ctx, span := tracing.Tracer.Start(ctx, "proposal.delete")
	defer span.End()

	err := s.delete(ctx, id, actor)
	s.observe(span, workflow.Delete, err)
	return err
}

func (s *ProposalService) delete(ctx context.Context, id string, actor workflow.Actor) error {
	p, err := s.Proposals.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := workflow.CanTransition(p, actor, workflow.Delete); err != nil {
		return err
	}
	if err := s.Proposals.Delete(ctx, id); err != nil {
		return err
	}
	logger.Log.Info("proposal deleted", zap.String("proposal", id), zap.Uint("actor", actor.UserID))
	s.Events.Notify(ctx, p, workflow.Delete, actor)
	return nil
}

func (s *ProposalService) SubmitInternal(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.SubmitInternal, nil)
}

// ApproveInternal records the actor's endorsement during internal review and
// reports progress towards opening the proposal.
func (s *ProposalService) ApproveInternal(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, workflow.Progress, error) {
	var progress workflow.Progress
	p, err := s.transition(ctx, id, actor, workflow.ApproveInternal, func(ctx context.Context, p *model.Proposal) error {
		p.AddApproval(actor.UserID)
		var err error
		progress, err = s.progress(ctx, p)
		return err
	})
	return p, progress, err
}

// Open moves a proposal to member voting once every current admin approved.
// The admin count is read live; a role change racing with this call may be
// missed, which is accepted for this workload.
func (s *ProposalService) Open(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.Open, func(ctx context.Context, p *model.Proposal) error {
		progress, err := s.progress(ctx, p)
		if err != nil {
			return err
		}
		if !progress.AllApproved {
			return util.ThresholdUnmet(progress.ApprovalCount, progress.Required)
		}
		p.Consents = []uint{}
		return nil
	})
}

func (s *ProposalService) Withdraw(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.Withdraw, func(ctx context.Context, p *model.Proposal) error {
		if len(p.Consents) > 0 {
			return util.InvalidStatef(string(p.Status), "Cannot withdraw: Proposal has received votes.")
		}
		return nil
	})
}

// Consent toggles the actor's vote and returns whether the actor now agrees.
func (s *ProposalService) Consent(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, bool, error) {
	var agreed bool
	p, err := s.transition(ctx, id, actor, workflow.Consent, func(ctx context.Context, p *model.Proposal) error {
		agreed = p.ToggleConsent(actor.UserID)
		return nil
	})
	return p, agreed, err
}

// Approve adds the actor's approval and moves the proposal to approved once
// the configured consensus threshold of current admins is reached.
func (s *ProposalService) Approve(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.Approve, func(ctx context.Context, p *model.Proposal) error {
		p.AddApproval(actor.UserID)

		total, err := s.Users.CountAdmins(ctx)
		if err != nil {
			return err
		}
		approved, err := s.Users.CountAdminsAmong(ctx, p.Approvals)
		if err != nil {
			return err
		}
		if approved >= workflow.ApproveThreshold(s.ApproveThreshold(), total) {
			p.Status = model.StatusApproved
		}
		return nil
	})
}

// Reject closes a proposal under review. A non-empty reason is kept as a remark.
func (s *ProposalService) Reject(ctx context.Context, id string, actor workflow.Actor, reason string) (*model.Proposal, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, id, actor, workflow.Reject, func(ctx context.Context, p *model.Proposal) error {
		if utf8.RuneCountInString(reason) > maxRemarkLength {
			return util.Invalidf("reason must be at most %d characters", maxRemarkLength)
		}
		if reason != "" {
			p.AddRemark(actor.UserID, reason, s.now())
		}
		return nil
	})
}

func (s *ProposalService) SubmitPublic(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.SubmitPublic, nil)
}

func (s *ProposalService) Rate(ctx context.Context, id string, actor workflow.Actor, value int) (*model.Proposal, error) {
	return s.transition(ctx, id, actor, workflow.Rate, func(ctx context.Context, p *model.Proposal) error {
		if value < util.MinRating || value > util.MaxRating {
			return util.Invalidf("Rating must be %d-%d", util.MinRating, util.MaxRating)
		}
		p.UpsertRating(actor.UserID, value, s.now())
		return nil
	})
}

func (s *ProposalService) Remark(ctx context.Context, id string, actor workflow.Actor, text string) (*model.Proposal, error) {
	text = strings.TrimSpace(text)
	return s.transition(ctx, id, actor, workflow.Remark, func(ctx context.Context, p *model.Proposal) error {
		if text == "" {
			return util.Invalidf("Text required")
		}
		if utf8.RuneCountInString(text) > maxRemarkLength {
			return util.Invalidf("remark must be at most %d characters", maxRemarkLength)
		}
		p.AddRemark(actor.UserID, text, s.now())
		return nil
	})
}

// Publish applies the proposal to the lesson store and marks it published.
// Both writes share one transaction: if the lesson change fails the proposal
// stays approved.
func (s *ProposalService) Publish(ctx context.Context, id string, actor workflow.Actor) (*PublishResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "proposal.publish")
	defer span.End()

	result, err := s.publish(ctx, id, actor)
	s.observe(span, workflow.Publish, err)
	return result, err
}

func (s *ProposalService) publish(ctx context.Context, id string, actor workflow.Actor) (*PublishResult, error) {
	p, err := s.Proposals.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanTransition(p, actor, workflow.Publish); err != nil {
		return nil, err
	}

	from := p.Status
	var effect *PublishEffect
	err = s.Tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		effect, err = s.Lessons.ApplyProposal(ctx, p)
		if err != nil {
			return err
		}
		p.Status = model.StatusPublished
		return s.Proposals.Save(ctx, p)
	})
	if err != nil {
		p.Status = from
		return nil, err
	}

	s.Lessons.InvalidateCache(ctx)
	monitoring.LessonPublishes.WithLabelValues(string(effect.Action)).Inc()
	logger.Log.Info("proposal published",
		zap.String("proposal", p.ID),
		zap.String("action", string(p.Action)),
		zap.String("lesson", effect.LessonID),
		zap.Uint("actor", actor.UserID),
	)
	s.Events.Notify(ctx, p, workflow.Publish, actor)
	return &PublishResult{Proposal: p, Effect: effect}, nil
}

// List returns the proposals visible to actor, newest first.
func (s *ProposalService) List(ctx context.Context, actor workflow.Actor) ([]model.Proposal, error) {
	return s.Proposals.Find(ctx, workflow.VisibilityScope(actor))
}

// Get returns a single proposal if actor may see it. Hidden proposals are
// reported as not found.
func (s *ProposalService) Get(ctx context.Context, id string, actor workflow.Actor) (*model.Proposal, error) {
	p, err := s.Proposals.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !workflow.CanView(p, actor) {
		return nil, util.NotFoundf("Proposal not found")
	}
	return p, nil
}

// Progress reports approval progress of a proposal towards opening.
func (s *ProposalService) Progress(ctx context.Context, p *model.Proposal) (workflow.Progress, error) {
	return s.progress(ctx, p)
}

func (s *ProposalService) progress(ctx context.Context, p *model.Proposal) (workflow.Progress, error) {
	total, err := s.Users.CountAdmins(ctx)
	if err != nil {
		return workflow.Progress{}, err
	}
	approved, err := s.Users.CountAdminsAmong(ctx, p.Approvals)
	if err != nil {
		return workflow.Progress{}, err
	}
	return workflow.NewProgress(approved, total), nil
}

type mutation func(ctx context.Context, p *model.Proposal) error

// transition is the shared load → authorize → mutate → save cycle.
func (s *ProposalService) transition(ctx context.Context, id string, actor workflow.Actor, t workflow.Transition, apply mutation) (*model.Proposal, error) {
	ctx, span := tracing.Tracer.Start(ctx, "proposal."+string(t))
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", id))

	p, err := s.run(ctx, id, actor, t, apply)
	s.observe(span, t, err)
	return p, err
}

func (s *ProposalService) run(ctx context.Context, id string, actor workflow.Actor, t workflow.Transition, apply mutation) (*model.Proposal, error) {
	p, err := s.Proposals.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanTransition(p, actor, t); err != nil {
		return nil, err
	}

	from := p.Status
	if to, ok := workflow.Target(t); ok {
		p.Status = to
	}
	if apply != nil {
		if err := apply(ctx, p); err != nil {
			return nil, err
		}
	}
	if err := s.Proposals.Save(ctx, p); err != nil {
		return nil, err
	}

	logger.Log.Info("proposal transition",
		zap.String("proposal", p.ID),
		zap.String("transition", string(t)),
		zap.String("from", string(from)),
		zap.String("to", string(p.Status)),
		zap.Uint("actor", actor.UserID),
	)
	s.Events.Notify(ctx, p, t, actor)
	return p, nil
}

func (s *ProposalService) observe(span trace.Span, t workflow.Transition, err error) {
	outcome := outcomeOf(err)
	monitoring.ProposalTransitions.WithLabelValues(string(t), outcome).Inc()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	if outcome == "error" {
		logger.Log.Error("proposal transition failed", zap.String("transition", string(t)), zap.Error(err))
	} else {
		logger.Log.Debug("proposal transition refused", zap.String("transition", string(t)), zap.Error(err))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, util.ErrNotFound):
		return "not_found"
	case errors.Is(err, util.ErrForbidden):
		return "forbidden"
	case errors.Is(err, util.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, util.ErrValidation):
		return "validation"
	case errors.Is(err, util.ErrThresholdUnmet):
		return "threshold_unmet"
	case errors.Is(err, util.ErrConcurrentUpdate):
		return "conflict"
	default:
		return "error"
	}
}
