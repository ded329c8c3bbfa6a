package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// Delegate is a live model able to do both calls.
type Delegate interface {
	Describer
	Confirmer
	Name() string
}

// ErrOverQuota is returned when the limiter cannot grant a token before the call deadline.
var ErrOverQuota = errors.New("over quota")

// Guard bounds a live delegate: per-call timeout, shared in-memory limiter, response validation. Any failure is
// logged and answered by the deterministic fallback, so callers never see an error.
type Guard struct {
	live     Delegate
	fallback Fallback
	limiter  *rate.Limiter
	config   Config
	logger   logger.Logger
}

func NewGuard(live Delegate, config Config, log logger.Logger) *Guard {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Guard{
		live:    live,
		limiter: rate.NewLimiter(limit, burst),
		config:  config,
		logger:  log.With(logger.String("delegate", live.Name())),
	}
}

func (g *Guard) Name() string { return g.live.Name() }

func (g *Guard) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	desc, err := g.describe(ctx, req)
	if err != nil {
		g.logger.Warn("Describe failed, using fallback",
			logger.String("date", req.Date.String()),
			logger.Error(err),
		)
		return FallbackDescription(req), nil
	}
	return desc, nil
}

func (g *Guard) describe(ctx context.Context, req DescribeRequest) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.acquire(ctx, "describe"); err != nil {
		return "", err
	}
	desc, err := g.live.Describe(ctx, req)
	if err != nil {
		return "", err
	}
	return desc, g.validateDescription(desc)
}

func (g *Guard) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	c, err := g.confirm(ctx, req)
	if err != nil {
		g.logger.Warn("Confirm failed, using fallback",
			logger.String("pattern", string(req.PatternType)),
			logger.Error(err),
		)
		return g.fallback.Confirm(ctx, req)
	}
	return c, nil
}

func (g *Guard) confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.acquire(ctx, "confirm"); err != nil {
		return nil, err
	}
	c, err := g.live.Confirm(ctx, req)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &models.ExternalServiceError{Service: g.live.Name(), Op: "confirm", Err: fmt.Errorf("empty confirmation")}
	}
	return c, g.validateConfirmation(c)
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.config.Timeout)
}

// acquire waits for a limiter token; Wait fails fast when the token would arrive after the deadline.
func (g *Guard) acquire(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &models.ExternalServiceError{Service: g.live.Name(), Op: op, Err: fmt.Errorf("%w: %v", ErrOverQuota, err)}
	}
	return nil
}

func (g *Guard) validateDescription(desc string) error {
	malformed := func(reason string) error {
		return &models.ExternalServiceError{Service: g.live.Name(), Op: "describe", Err: errors.New(reason)}
	}
	switch {
	case strings.TrimSpace(desc) == "":
		return malformed("empty description")
	case g.config.MaxDescriptionLength > 0 && len([]rune(desc)) > g.config.MaxDescriptionLength:
		return malformed(fmt.Sprintf("description longer than %d characters", g.config.MaxDescriptionLength))
	case strings.Contains(strings.TrimSpace(desc), "\n"):
		return malformed("description spans several lines")
	}
	return nil
}

func (g *Guard) validateConfirmation(c *Confirmation) error {
	malformed := func(reason string) error {
		return &models.ExternalServiceError{Service: g.live.Name(), Op: "confirm", Err: errors.New(reason)}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return malformed(fmt.Sprintf("confidence %v out of range", c.Confidence))
	}
	if !c.IsContradiction {
		return nil
	}
	switch models.Severity(c.Severity) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
	default:
		return malformed(fmt.Sprintf("unknown severity %q", c.Severity))
	}
	if strings.TrimSpace(c.Explanation) == "" {
		return malformed("missing explanation")
	}
	return nil
}
