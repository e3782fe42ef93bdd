// Package moderation screens user-submitted text before it is stored.
//
// Classification is fail-open: when no classifier is configured, or the
// configured one errors, times out or returns something unreadable, the
// verdict allows the write. Only an explicit flag from a working classifier
// blocks content.
package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/alphabot-ai/scribe/internal/breaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// Classifier is a remote classification backend. It makes a single attempt.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

type Client struct {
	classifier Classifier
	cache      VerdictCache
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
}

var _ Moderator = (*Client)(nil)

type Option func(*Client)

func WithCache(c VerdictCache) Option {
	return func(mc *Client) { mc.cache = c }
}

func WithTimeout(d time.Duration) Option {
	return func(mc *Client) {
		if d > 0 {
			mc.timeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(mc *Client) {
		if log != nil {
			mc.log = log
		}
	}
}

// New returns a Client. A nil classifier means moderation is unconfigured and
// every call returns Unconfigured().
func New(classifier Classifier, opts ...Option) *Client {
	mc := &Client{
		classifier: classifier,
		timeout:    DefaultTimeout,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(mc)
	}
	mc.breaker = breaker.New("moderation", 30*time.Second, mc.log)
	return mc
}

func (mc *Client) Configured() bool {
	return mc.classifier != nil
}

func (mc *Client) Classify(ctx context.Context, text string) Verdict {
	if mc.classifier == nil {
		moderationCount.WithLabelValues("unconfigured").Inc()
		return Unconfigured()
	}

	key := CacheKey(KindFromContext(ctx, ""), text)
	if mc.cache != nil {
		if v, ok := mc.cache.Get(ctx, key); ok {
			moderationCacheHits.Inc()
			return v
		}
	}

	ctx, cancel := context.WithTimeout(ctx, mc.timeout)
	defer cancel()

	start := time.Now()
	res, err := mc.breaker.Execute(func() (interface{}, error) {
		return mc.classifier.Classify(ctx, text)
	})
	moderationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		mc.logFailure(err)
		moderationCount.WithLabelValues("error").Inc()
		return Fallback()
	}

	v := res.(Classification).Verdict()
	if v.IsAppropriate {
		moderationCount.WithLabelValues("allowed").Inc()
	} else {
		moderationCount.WithLabelValues("flagged").Inc()
		mc.log.Info("content flagged", zap.Strings("issues", v.Issues), zap.String("severity", string(v.Severity)))
	}
	if mc.cache != nil {
		mc.cache.Set(ctx, key, v)
	}
	return v
}

func (mc *Client) logFailure(err error) {
	var perr *ParseError
	switch {
	case errors.As(err, &perr):
		mc.log.Warn("moderation response unreadable, allowing content", zap.Error(err), zap.String("raw", perr.Raw))
	case breaker.IsOpen(err):
		mc.log.Warn("moderation breaker open, allowing content", zap.Error(err))
	default:
		mc.log.Warn("moderation call failed, allowing content", zap.Error(err))
	}
}
