package controller

import (
	"rulebook_backend/internal/service"
	"rulebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AssetController struct {
	StorageService *service.StorageService
}

func NewAssetController(storageService *service.StorageService) *AssetController {
	return &AssetController{StorageService: storageService}
}

// UploadImage godoc
// @Summary 上传编辑器图片
// @Description 上传图片并返回可在课程 HTML 中引用的 URL
// @Tags 资源
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   file formData file true "图片文件"
// @Success 201 {object} util.Response{data=service.UploadedAsset}
// @Failure 400 {object} util.Response "文件无效"
// @Router /api/assets/images [post]
func (c *AssetController) UploadImage(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "请选择要上传的文件")
		return
	}

	asset, err := c.StorageService.UploadImage(ctx.Request.Context(), header)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, asset)
}
