package main

import (
	"sync"

	"recap/internal/config"
)

// commandContext lazily loads configuration once per invocation.
type commandContext struct {
	configFlag *string

	once sync.Once
	cfg  *config.Config
	path string
	err  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		c.cfg, c.path, c.err = config.Load(path)
	})
	return c.cfg, c.err
}

func (c *commandContext) configPath() string {
	return c.path
}
