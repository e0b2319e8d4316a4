package streams

import (
	"context"
	"errors"
	"time"
)

// ClaimIdle is how long a pending message may sit before Follow takes it over.
const ClaimIdle = time.Minute

// Follow reads the stream through the consumer's group until ctx ends,
// handing each message to fn. Messages are acknowledged once fn returns nil;
// a failing message stays pending and is reclaimed on the next Follow.
func Follow(ctx context.Context, c *Consumer, stream string, fn func(context.Context, Message) error) error {
	start := "0-0"
	for {
		claimed, next, err := c.AutoClaim(ctx, stream, ClaimIdle, start, 32)
		if err != nil {
			return err
		}
		if err := handle(ctx, c, stream, claimed, fn); err != nil {
			return err
		}
		if next == "0-0" || len(claimed) == 0 {
			break
		}
		start = next
	}
	for {
		msgs, err := c.Read(ctx, stream, WithBlock(2*time.Second), WithCount(32))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := handle(ctx, c, stream, msgs, fn); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func handle(ctx context.Context, c *Consumer, stream string, msgs []Message, fn func(context.Context, Message) error) error {
	for _, m := range msgs {
		if err := fn(ctx, m); err != nil {
			continue
		}
		recordConsume(ctx, m.Envelope.EventType)
		if err := c.Ack(context.WithoutCancel(ctx), stream, m.ID); err != nil {
			return err
		}
	}
	return nil
}
