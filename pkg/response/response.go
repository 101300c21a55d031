/*
 * @Description: 统一的API返回结构
 * @Author: 安知鱼
 * @Date: 2025-06-15 12:16:18
 * @LastEditTime: 2026-10-16 19:10:48
 * @LastEditors: 安知鱼
 */
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 是统一的API返回结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}, message string) {
	SuccessWithStatus(c, http.StatusOK, data, message)
}

// SuccessWithStatus 成功响应，但允许自定义 HTTP 状态码，例如 201 或 207。
func SuccessWithStatus(c *gin.Context, code int, data interface{}, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Fail 失败响应
func Fail(c *gin.Context, code int, message string) {
	FailWithData(c, code, message, nil)
}

// FailWithData 失败响应并附带数据，用于批量操作返回每个条目的结果
func FailWithData(c *gin.Context, code int, message string, data interface{}) {
	c.AbortWithStatusJSON(code, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
