// Package oracle stores signed price readings on the ledger. The feed the
// arena prices tickets with may only be written by the publisher named in the
// arena config; any other feed id belongs to its first publisher.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/vm"
)

var (
	ErrInvalidFeed     = errors.New("invalid price feed update")
	ErrNotPublisher    = errors.New("signer does not publish this feed")
	ErrPublishBackward = errors.New("publish time goes backwards")
	ErrPublishFuture   = errors.New("publish time is ahead of block time")
)

// MaxFutureSkew is how many seconds past block time a reading may be stamped.
const MaxFutureSkew = 30

func init() {
	vm.Register(core.TxPublishPrice, handlePublishPrice)
}

func handlePublishPrice(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PublishPricePayload
	if err := vm.DecodePayload(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	if p.FeedID == "" {
		return fmt.Errorf("%w: feed id required", ErrInvalidFeed)
	}
	if p.PublishTime <= 0 {
		return fmt.Errorf("%w: publish time required", ErrInvalidFeed)
	}

	if limit := ctx.Now() + MaxFutureSkew; p.PublishTime > limit {
		return fmt.Errorf("%w: %d > %d", ErrPublishFuture, p.PublishTime, limit)
	}

	configured, err := configuredPublisher(ctx.State, p.FeedID)
	if err != nil {
		return err
	}
	if configured != "" && ctx.Signer() != configured {
		return ErrNotPublisher
	}

	prev, err := ctx.State.GetPriceFeed(p.FeedID)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return err
	case prev.Publisher != ctx.Signer():
		// The configured publisher replaces whoever wrote the feed before.
		if configured == "" {
			return ErrNotPublisher
		}
	case p.PublishTime < prev.PublishTime:
		return fmt.Errorf("%w: %d < %d", ErrPublishBackward, p.PublishTime, prev.PublishTime)
	}

	feed := &core.PriceFeed{
		ID:          p.FeedID,
		Publisher:   ctx.Signer(),
		Price:       p.Price,
		Conf:        p.Conf,
		Expo:        p.Expo,
		PublishTime: p.PublishTime,
	}
	if err := ctx.State.SetPriceFeed(feed); err != nil {
		return err
	}

	ctx.Emit(events.EventPricePublished, map[string]any{
		"feed_id":      feed.ID,
		"price":        feed.Price,
		"conf":         feed.Conf,
		"expo":         feed.Expo,
		"publish_time": feed.PublishTime,
	})
	return nil
}

// configuredPublisher returns the publisher the arena config names for
// feedID, or "" when the feed is not the arena's.
func configuredPublisher(state core.State, feedID string) (string, error) {
	cfg, err := state.GetConfig()
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if cfg.PriceFeedID != feedID {
		return "", nil
	}
	return cfg.PricePublisher, nil
}
