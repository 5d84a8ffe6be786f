package controller

import (
	"rulebook_backend/internal/middleware"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"

	"github.com/gin-gonic/gin"
)

// ProposalController exposes the proposal workflow over HTTP.
type ProposalController struct {
	ProposalService *service.ProposalService
	Hub             *service.ProposalHub
}

func NewProposalController(proposalService *service.ProposalService, hub *service.ProposalHub) *ProposalController {
	return &ProposalController{ProposalService: proposalService, Hub: hub}
}

// ProposalView adds derived fields for the client.
// swagger:model ProposalView
type ProposalView struct {
	*model.Proposal
	AverageRating float64               `json:"averageRating"`
	Actions       []workflow.Transition `json:"actions"`
}

func newProposalView(p *model.Proposal, actor workflow.Actor) ProposalView {
	actions := workflow.Available(p, actor)
	if actions == nil {
		actions = []workflow.Transition{}
	}
	return ProposalView{Proposal: p, AverageRating: p.AverageRating(), Actions: actions}
}

// RateRequest carries a 1-5 rating.
type RateRequest struct {
	Value int `json:"value" binding:"required"`
}

// RemarkRequest carries a review remark.
type RemarkRequest struct {
	Text string `json:"text" binding:"required"`
}

// RejectRequest carries an optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// List godoc
// @Summary 提案列表
// @Description 按调用者角色过滤可见的提案
// @Tags 提案
// @Produce  json
// @Success 200 {object} util.Response{data=[]ProposalView}
// @Router /api/proposals [get]
func (c *ProposalController) List(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	proposals, err := c.ProposalService.List(ctx.Request.Context(), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	views := make([]ProposalView, 0, len(proposals))
	for i := range proposals {
		views = append(views, newProposalView(&proposals[i], actor))
	}
	util.Success(ctx, views)
}

// Get godoc
// @Summary 提案详情
// @Tags 提案
// @Produce  json
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=ProposalView}
// @Failure 404 {object} util.Response "提案不存在或不可见"
// @Router /api/proposals/{id} [get]
func (c *ProposalController) Get(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Get(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, newProposalView(p, actor))
}

// Create godoc
// @Summary 创建提案草稿
// @Tags 提案
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.ProposalInput true "提案内容"
// @Success 201 {object} util.Response{data=ProposalView}
// @Failure 400 {object} util.Response "参数错误"
// @Failure 404 {object} util.Response "原课程不存在"
// @Router /api/proposals [post]
func (c *ProposalController) Create(ctx *gin.Context) {
	var req service.ProposalInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Create(ctx.Request.Context(), actor, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, newProposalView(p, actor))
}

// Update godoc
// @Summary 编辑草稿
// @Tags 提案
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Param   body body service.ProposalUpdate true "修改内容"
// @Success 200 {object} util.Response{data=ProposalView}
// @Failure 403 {object} util.Response "仅作者"
// @Failure 409 {object} util.Response "状态不允许"
// @Router /api/proposals/{id} [put]
func (c *ProposalController) Update(ctx *gin.Context) {
	var req service.ProposalUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Update(ctx.Request.Context(), ctx.Param("id"), actor, req)
	c.respond(ctx, actor, p, err)
}

// Delete godoc
// @Summary 删除提案
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response
// @Router /api/proposals/{id} [delete]
func (c *ProposalController) Delete(ctx *gin.Context) {
	if err := c.ProposalService.Delete(ctx.Request.Context(), ctx.Param("id"), middleware.ActorFrom(ctx)); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"message": "Proposal deleted"})
}

// SubmitInternal godoc
// @Summary 提交内部审核
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=ProposalView}
// @Router /api/proposals/{id}/submit_internal [put]
func (c *ProposalController) SubmitInternal(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.SubmitInternal(ctx.Request.Context(), ctx.Param("id"), actor)
	c.respond(ctx, actor, p, err)
}

// ApproveInternal godoc
// @Summary 内部审核通过
// @Description 返回当前审批进度
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/proposals/{id}/approve_internal [put]
func (c *ProposalController) ApproveInternal(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, progress, err := c.ProposalService.ApproveInternal(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"proposal":      newProposalView(p, actor),
		"approvalCount": progress.ApprovalCount,
		"totalAdmins":   progress.TotalAdmins,
		"allApproved":   progress.AllApproved,
	})
}

// Open godoc
// @Summary 开放投票
// @Description 需要全部管理员内部审核通过
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=ProposalView}
// @Failure 409 {object} util.Response "审批人数不足"
// @Router /api/proposals/{id}/open [put]
func (c *ProposalController) Open(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Open(ctx.Request.Context(), ctx.Param("id"), actor)
	c.respond(ctx, actor, p, err)
}

// Withdraw godoc
// @Summary 撤回投票
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=ProposalView}
// @Failure 409 {object} util.Response "已有投票"
// @Router /api/proposals/{id}/withdraw [put]
func (c *ProposalController) Withdraw(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Withdraw(ctx.Request.Context(), ctx.Param("id"), actor)
	c.respond(ctx, actor, p, err)
}

// Consent godoc
// @Summary 投票同意/取消
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/proposals/{id}/consent [put]
func (c *ProposalController) Consent(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, agreed, err := c.ProposalService.Consent(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"proposal": newProposalView(p, actor), "agreed": agreed})
}

// Approve godoc
// @Summary 管理员最终批准
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/proposals/{id}/approve [put]
func (c *ProposalController) Approve(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Approve(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"proposal":       newProposalView(p, actor),
		"readyToPublish": p.Status == model.StatusApproved,
	})
}

// Reject godoc
// @Summary 驳回提案
// @Tags 提案
// @Accept  json
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Param   body body RejectRequest false "驳回理由"
// @Success 200 {object} util.Response{data=ProposalView}
// @Router /api/proposals/{id}/reject [put]
func (c *ProposalController) Reject(ctx *gin.Context) {
	var req RejectRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Reject(ctx.Request.Context(), ctx.Param("id"), actor, req.Reason)
	c.respond(ctx, actor, p, err)
}

// SubmitPublic godoc
// @Summary 进入公开评审
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=ProposalView}
// @Router /api/proposals/{id}/submit_public [put]
func (c *ProposalController) SubmitPublic(ctx *gin.Context) {
	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.SubmitPublic(ctx.Request.Context(), ctx.Param("id"), actor)
	c.respond(ctx, actor, p, err)
}

// Rate godoc
// @Summary 评分 (1-5)
// @Tags 提案
// @Accept  json
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Param   body body RateRequest true "评分"
// @Success 200 {object} util.Response{data=ProposalView}
// @Failure 400 {object} util.Response "评分超出范围"
// @Router /api/proposals/{id}/rate [put]
func (c *ProposalController) Rate(ctx *gin.Context) {
	var req RateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Rate(ctx.Request.Context(), ctx.Param("id"), actor, req.Value)
	c.respond(ctx, actor, p, err)
}

// Remark godoc
// @Summary 添加备注
// @Tags 提案
// @Accept  json
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Param   body body RemarkRequest true "备注"
// @Success 200 {object} util.Response{data=ProposalView}
// @Router /api/proposals/{id}/remark [post]
func (c *ProposalController) Remark(ctx *gin.Context) {
	var req RemarkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	actor := middleware.ActorFrom(ctx)
	p, err := c.ProposalService.Remark(ctx.Request.Context(), ctx.Param("id"), actor, req.Text)
	c.respond(ctx, actor, p, err)
}

// Publish godoc
// @Summary 发布提案
// @Description 将提案应用到课程并标记为已发布
// @Tags 提案
// @Security ApiKeyAuth
// @Param   id path string true "提案ID"
// @Success 200 {object} util.Response{data=service.PublishResult}
// @Failure 404 {object} util.Response "原课程不存在"
// @Router /api/proposals/{id}/publish [put]
func (c *ProposalController) Publish(ctx *gin.Context) {
	result, err := c.ProposalService.Publish(ctx.Request.Context(), ctx.Param("id"), middleware.ActorFrom(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

func (c *ProposalController) respond(ctx *gin.Context, actor workflow.Actor, p *model.Proposal, err error) {
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, newProposalView(p, actor))
}

// Events godoc
// @Summary 订阅提案变更
// @Description WebSocket 推送当前用户可见提案的状态变化；浏览器可用 ?token= 传递令牌
// @Tags 提案
// @Param   token query string false "JWT"
// @Success 101
// @Router /api/events/proposals [get]
func (c *ProposalController) Events(ctx *gin.Context) {
	c.Hub.Serve(ctx.Writer, ctx.Request, middleware.ActorFrom(ctx))
}
