package controller

import (
	"strconv"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// UserController serves the user directory and role management.
type UserController struct {
	UserService *service.UserService
}

// NewUserController creates a UserController.
func NewUserController(userService *service.UserService) *UserController {
	return &UserController{
		UserService: userService,
	}
}

// UpdateRoleRequest sets a user's role.
// swagger:model UpdateRoleRequest
type UpdateRoleRequest struct {
	Role model.UserRole `json:"role" binding:"required"`
}

// GetUsers godoc
// @Summary 获取用户列表
// @Tags 用户管理
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.User} "成功"
// @Failure 401 {object} util.Response "未授权"
// @Failure 403 {object} util.Response "仅管理员"
// @Router /api/users [get]
func (c *UserController) GetUsers(ctx *gin.Context) {
	users, err := c.UserService.GetUsers(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, users)
}

// UpdateRole godoc
// @Summary 修改用户角色
// @Tags 用户管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "用户ID"
// @Param   body body UpdateRoleRequest true "目标角色 (admin/member)"
// @Success 200 {object} util.Response{data=model.User}
// @Failure 400 {object} util.Response "角色无效"
// @Failure 404 {object} util.Response "用户不存在"
// @Failure 409 {object} util.Response "不能降级最后一个管理员"
// @Router /api/users/{id}/role [put]
func (c *UserController) UpdateRole(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "无效的用户ID")
		return
	}

	var req UpdateRoleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	user, err := c.UserService.UpdateRole(ctx.Request.Context(), uint(id), req.Role)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, user)
}

// PublicMembers godoc
// @Summary 公开成员名录
// @Tags 用户管理
// @Produce  json
// @Success 200 {object} util.Response{data=[]service.PublicMember}
// @Router /api/public/members [get]
func (c *UserController) PublicMembers(ctx *gin.Context) {
	members, err := c.UserService.PublicMembers(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, members)
}
