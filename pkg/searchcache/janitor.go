package searchcache

import (
	"github.com/robfig/cron/v3"
)

// startJanitor 以 "@every <interval>" 注册后台清理任务。
// cron 的最小调度粒度为1秒，更短的间隔会被提升到1秒。
func (c *Cache) startJanitor() {
	if c.config.CleanupInterval <= 0 {
		return
	}

	c.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.cron.AddFunc("@every "+c.config.CleanupInterval.String(), c.sweep); err != nil {
		c.logger.WithError(err).Error("注册后台清理任务失败")
		c.cron = nil
		return
	}
	c.cron.Start()
}

func (c *Cache) stopJanitor() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}
