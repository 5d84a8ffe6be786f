package controller

import (
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LessonController struct {
	LessonService *service.LessonService
}

func NewLessonController(lessonService *service.LessonService) *LessonController {
	return &LessonController{LessonService: lessonService}
}

// List godoc
// @Summary 课程列表
// @Description 按侧边栏顺序返回全部课程
// @Tags 课程
// @Produce  json
// @Success 200 {object} util.Response{data=[]model.Lesson}
// @Router /api/lessons [get]
func (c *LessonController) List(ctx *gin.Context) {
	lessons, err := c.LessonService.List(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, lessons)
}

// Get godoc
// @Summary 课程详情（含历史版本）
// @Tags 课程
// @Produce  json
// @Param   id path string true "课程ID"
// @Success 200 {object} util.Response{data=model.Lesson}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/lessons/{id} [get]
func (c *LessonController) Get(ctx *gin.Context) {
	lesson, err := c.LessonService.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, lesson)
}

// Seed godoc
// @Summary 初始化课程
// @Description 仅在课程为空时批量导入
// @Tags 课程
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body []service.LessonSeed true "课程列表"
// @Success 201 {object} util.Response{data=object}
// @Failure 409 {object} util.Response "课程已存在"
// @Router /api/lessons/seed [post]
func (c *LessonController) Seed(ctx *gin.Context) {
	var seeds []service.LessonSeed
	if err := ctx.ShouldBindJSON(&seeds); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	count, err := c.LessonService.Seed(ctx.Request.Context(), seeds)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"message": "Seeded", "count": count})
}
