/*
 * @Description: 后台任务接口
 * @Author: 安知鱼
 * @Date: 2025-07-12 16:09:46
 * @LastEditTime: 2026-10-16 14:02:11
 * @LastEditors: 安知鱼
 */
package task

// Job 与 cron.Job 接口兼容，Name 用于日志。
type Job interface {
	Run()
	Name() string
}
