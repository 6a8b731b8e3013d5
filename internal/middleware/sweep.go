package middleware

import "github.com/gin-gonic/gin"

// SweepTrigger 能异步触发一次过期清理的对象
type SweepTrigger interface {
	Trigger() bool
}

// TriggerSweep 每个请求结束后非阻塞地派发一次过期清理
//
// 是否真正执行由 Sweeper 的最小间隔和任务队列决定，这里不关心结果。
func TriggerSweep(sweeper SweepTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if sweeper != nil {
			sweeper.Trigger()
		}
	}
}
