package rebot

import (
	"context"

	"github.com/fieldbus/deviceaccess/internal/rawio"
)

// Opener adapts a single Client connection into backend.IOOpener,
// exposing the whole rebot address space as BAR 0 — the wire protocol
// has no BAR concept of its own.
type Opener struct {
	cfg  Config
	size uint64
}

// NewOpener builds an Opener for a rebot server reachable at cfg.Address,
// presenting size bytes of address space as BAR 0.
func NewOpener(cfg Config, size uint64) *Opener {
	return &Opener{cfg: cfg, size: size}
}

func (o *Opener) OpenChannels(ctx context.Context) (map[int]rawio.Channel, error) {
	client := New(o.cfg)
	if err := client.Open(ctx); err != nil {
		return nil, err
	}
	return map[int]rawio.Channel{0: client.AsChannel(o.size)}, nil
}

func (o *Opener) CloseChannels(channels map[int]rawio.Channel) error {
	var firstErr error
	for _, ch := range channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
