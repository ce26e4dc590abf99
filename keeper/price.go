package keeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/internal/retry"
	"github.com/tolelom/tolarena/pricing"
)

// PriceSource fetches the current reading for a feed.
type PriceSource interface {
	Fetch(ctx context.Context) (pricing.Quote, error)
}

// HTTPPriceSource reads a price from any JSON endpoint. Paths use gjson
// syntax; ConfPath and TimePath are optional.
type HTTPPriceSource struct {
	URL       string
	PricePath string
	ConfPath  string
	TimePath  string
	// Expo is the exponent readings are scaled to, e.g. -8.
	Expo   int32
	Client *http.Client
	Clock  clockwork.Clock
}

func (s *HTTPPriceSource) Fetch(ctx context.Context) (pricing.Quote, error) {
	body, err := s.get(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}

	price, err := s.scaled(body, s.PricePath)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("price: %w", err)
	}
	q := pricing.Quote{Price: price, Expo: s.Expo}

	if s.ConfPath != "" {
		conf, err := s.scaled(body, s.ConfPath)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("conf: %w", err)
		}
		if conf < 0 {
			return pricing.Quote{}, fmt.Errorf("conf: negative %d", conf)
		}
		q.Conf = uint64(conf)
	}

	if s.TimePath != "" {
		res := gjson.GetBytes(body, s.TimePath)
		if !res.Exists() {
			return pricing.Quote{}, fmt.Errorf("publish time: %q not in response", s.TimePath)
		}
		q.PublishTime = res.Int()
	} else {
		q.PublishTime = s.clock().Now().Unix()
	}
	return q, nil
}

func (s *HTTPPriceSource) get(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// scaled reads a decimal at path and returns it as a mantissa at s.Expo,
// rounded half away from zero.
func (s *HTTPPriceSource) scaled(body []byte, path string) (int64, error) {
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return 0, fmt.Errorf("%q not in response", path)
	}
	raw := res.String()
	if res.Type == gjson.Number {
		raw = res.Raw
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	mantissa := d.Shift(-s.Expo).Round(0)
	if !mantissa.BigInt().IsInt64() {
		return 0, fmt.Errorf("%s overflows at expo %d", d, s.Expo)
	}
	return mantissa.IntPart(), nil
}

func (s *HTTPPriceSource) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

// PricePublisher pushes source readings to an on-ledger feed on a fixed
// interval.
type PricePublisher struct {
	sub      *Submitter
	source   PriceSource
	feedID   string
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
}

func NewPricePublisher(sub *Submitter, source PriceSource, feedID string, interval time.Duration, clock clockwork.Clock, log *slog.Logger) *PricePublisher {
	return &PricePublisher{
		sub:      sub,
		source:   source,
		feedID:   feedID,
		interval: interval,
		clock:    clock,
		log:      log.With("feed_id", feedID),
	}
}

// PublishOnce fetches one reading and records it on the ledger.
func (p *PricePublisher) PublishOnce(ctx context.Context) error {
	q, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	if err := pricing.Validate(q, p.clock.Now().Unix()); err != nil {
		p.log.Warn("publishing a reading joins will reject", "error", err)
	}
	_, err = p.sub.Submit(ctx, func(n uint64) (*core.Transaction, error) {
		return p.sub.Wallet().PublishPrice(p.feedID, q.Price, q.Conf, q.Expo, q.PublishTime, n)
	})
	if err != nil {
		return err
	}
	p.log.Debug("price published", "price", q.Price, "conf", q.Conf, "expo", q.Expo, "publish_time", q.PublishTime)
	return nil
}

// Run publishes immediately and then every interval until ctx is done.
// Failed rounds are logged and retried on the next tick.
func (p *PricePublisher) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("price publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}
