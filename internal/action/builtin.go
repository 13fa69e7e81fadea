package action

import (
	"context"

	"harvestbot/pkg/logx"
)

// Harvester is the in-process harvest implementation.
type Harvester interface {
	FullHarvest(ctx context.Context) error
	ProcessTask(ctx context.Context, issueNumber int) error
}

// Builtin runs the harvest in-process.
type Builtin struct {
	h   Harvester
	log logx.Logger
}

func NewBuiltin(h Harvester, log logx.Logger) *Builtin {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builtin{h: h, log: log.With(logx.String("comp", "action"), logx.String("mode", "builtin"))}
}

func (b *Builtin) FullHarvest(ctx context.Context) error {
	b.log.Debug("full harvest")
	return b.h.FullHarvest(ctx)
}

func (b *Builtin) Task(ctx context.Context, issueNumber int) error {
	b.log.Debug("task", logx.Int("issue", issueNumber))
	return b.h.ProcessTask(ctx, issueNumber)
}
