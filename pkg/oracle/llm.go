package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/llm"
	"github.com/entrhq/formforge/pkg/llm/tokenizer"
	"github.com/entrhq/formforge/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("oracle")
	if err != nil {
		debugLog.Warnf("Failed to initialize oracle logger, using stderr fallback: %v", err)
	}
}

// Config bounds oracle usage for one run.
type Config struct {
	// Timeout bounds a single consultation, including time spent waiting
	// for the rate limiter.
	Timeout time.Duration
	// RequestsPerMinute paces calls to the model.
	RequestsPerMinute float64
	// Quota is the maximum number of model calls per run. Cache hits are free.
	Quota int
	// MaxPromptTokens trims the option list so the prompt fits.
	MaxPromptTokens int
	// CacheTTL is how long answers stay cached.
	CacheTTL time.Duration
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerMinute: 6,
		Quota:             20,
		MaxPromptTokens:   2000,
		CacheTTL:          time.Hour,
	}
}

// Stats counts oracle activity for the run summary.
type Stats struct {
	Calls     int `json:"calls"`
	CacheHits int `json:"cache_hits"`
	Failures  int `json:"failures"`
	Tokens    int `json:"prompt_tokens"`
}

// LLMOracle consults a chat model. Calls are serialized, paced and counted
// against the quota.
type LLMOracle struct {
	provider llm.Provider
	cfg      Config
	tok      *tokenizer.Tokenizer
	cache    Cache
	limiter  *rate.Limiter

	mu    sync.Mutex
	stats Stats
}

// Option configures an LLMOracle.
type Option func(*LLMOracle)

// WithCache sets the response cache. The default is an in-memory cache.
func WithCache(c Cache) Option {
	return func(o *LLMOracle) {
		o.cache = c
	}
}

// WithTokenizer sets the token counter. Without one, counts are estimated.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(o *LLMOracle) {
		o.tok = t
	}
}

// NewLLMOracle creates an oracle over provider.
func NewLLMOracle(provider llm.Provider, cfg Config, opts ...Option) *LLMOracle {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Quota <= 0 {
		cfg.Quota = def.Quota
	}

	o := &LLMOracle{
		provider: provider,
		cfg:      cfg,
		cache:    NewMemoryCache(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Consult implements Oracle.
func (o *LLMOracle) Consult(ctx context.Context, req Request) (Response, error) {
	key := CacheKey(req)
	if resp, ok, err := o.cache.Get(ctx, key); err != nil {
		debugLog.Warnf("Oracle cache read failed: %v", err)
	} else if ok {
		o.mu.Lock()
		o.stats.CacheHits++
		o.mu.Unlock()
		debugLog.Debugf("Oracle cache hit for field %s", req.FieldID)
		return resp, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stats.Calls >= o.cfg.Quota {
		return Response{}, fmt.Errorf("%w after %d calls", ErrBudgetExhausted, o.stats.Calls)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		o.stats.Failures++
		return Response{}, form.WrapFieldError(form.ErrOracleTimeout, req.FieldID, fmt.Errorf("waiting for rate limiter: %w", err))
	}

	msgs, tokens := buildMessages(req, o.tok, o.cfg.MaxPromptTokens)
	o.stats.Calls++
	o.stats.Tokens += tokens
	debugLog.Infof("Consulting %s for field %s (%d options, ~%d tokens)", o.provider.GetModel(), req.FieldID, len(req.Options), tokens)

	reply, err := o.provider.Complete(ctx, msgs)
	if err != nil {
		o.stats.Failures++
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, form.WrapFieldError(form.ErrOracleTimeout, req.FieldID, err)
		}
		return Response{}, form.WrapFieldError(form.ErrOracleTimeout, req.FieldID, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	resp, err := parseResponse(reply.Content, req)
	if err != nil {
		o.stats.Failures++
		debugLog.Warnf("Malformed oracle reply for field %s: %v", req.FieldID, err)
		return Response{}, err
	}

	if err := o.cache.Set(ctx, key, resp, o.cfg.CacheTTL); err != nil {
		debugLog.Warnf("Oracle cache write failed: %v", err)
	}
	debugLog.Debugf("Oracle answered field %s: index=%d confidence=%.2f", req.FieldID, resp.Index, resp.Confidence)
	return resp, nil
}

// Stats returns a snapshot of the counters.
func (o *LLMOracle) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Close releases the cache's connection, if it holds one.
func (o *LLMOracle) Close() error {
	if c, ok := o.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Oracle = (*LLMOracle)(nil)
