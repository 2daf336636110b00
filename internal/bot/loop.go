package bot

import (
	"context"
	"time"
)

type LoopConfig struct {
	TickRate int
}

// LoopHooks observe the loop from the tick goroutine.
type LoopHooks struct {
	AfterTick func(status Status, err error)
}

// Loop drives a Bot on a fixed cadence.
type Loop struct {
	bot    *Bot
	config LoopConfig
	hooks  LoopHooks
}

func NewLoop(bot *Bot, cfg LoopConfig, hooks LoopHooks) *Loop {
	if bot == nil {
		return nil
	}
	return &Loop{bot: bot, config: cfg, hooks: hooks}
}

// Run ticks the bot until ctx is done, then stops it so in-flight oracle
// requests are cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			err := l.bot.Tick(ctx)
			if err != nil {
				l.bot.logger.Printf("[bot] tick %d: %v", l.bot.Status().Tick, err)
			}
			if l.hooks.AfterTick != nil {
				l.hooks.AfterTick(l.bot.Status(), err)
			}
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	if !l.bot.phase.Active() {
		return
	}
	l.bot.Stop()
	_ = l.bot.Tick(ctx)
}
