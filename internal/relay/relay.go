// Package relay turns a question into a streamed LaTeX solution. It builds
// the prompt, picks an upstream credential, opens the upstream stream under
// the retry policy and circuit breaker, and forwards every fragment to a Sink
// in arrival order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/latex-ai/latex-ai-be/internal/circuitbreaker"
	"github.com/latex-ai/latex-ai-be/internal/keys"
	"github.com/latex-ai/latex-ai-be/internal/privacy"
	"github.com/latex-ai/latex-ai-be/internal/prompt"
	"github.com/latex-ai/latex-ai-be/internal/retry"
	"github.com/latex-ai/latex-ai-be/internal/store"
	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

// ErrEmptySolution is returned by Solve when the provider answers with no text
var ErrEmptySolution = errors.New("empty solution from provider")

// Request is a single generation request from a client
type Request struct {
	Question string `json:"question"`
	Seed     *int   `json:"seed,omitempty"`

	// Source names the transport the request arrived on
	Source string `json:"-"`
}

// Sink receives fragments for one generation. Write is called once per
// non-empty fragment, in order. Close is called only after the upstream
// ended cleanly.
type Sink interface {
	Write(fragment string) error
	Close() error
}

// Recorder persists generation outcomes
type Recorder interface {
	RecordGeneration(ctx context.Context, rec *store.Record) error
}

// Config holds the relay's tunables
type Config struct {
	Model         string
	Temperature   *float64
	MaxTokens     int
	RequireSeed   bool
	Retry         retry.Policy
	RecordTimeout time.Duration
}

// Deps are the collaborators of a Relay
type Deps struct {
	Client   llm.Client
	Rotator  *keys.Rotator
	Prompts  *prompt.Builder
	Breaker  *circuitbreaker.CircuitBreaker
	Recorder Recorder
	Logger   *zap.Logger
	Config   Config
}

// Relay runs generations against a single upstream provider
type Relay struct {
	client   llm.Client
	rotator  *keys.Rotator
	prompts  *prompt.Builder
	breaker  *circuitbreaker.CircuitBreaker
	recorder Recorder
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// New creates a relay. Client and Rotator are required.
func New(d Deps) *Relay {
	r := &Relay{
		client:   d.Client,
		rotator:  d.Rotator,
		prompts:  d.Prompts,
		breaker:  d.Breaker,
		recorder: d.Recorder,
		logger:   d.Logger,
		cfg:      d.Config,
		now:      time.Now,
	}
	if r.prompts == nil {
		r.prompts = prompt.NewBuilder("")
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.NewCircuitBreaker(0, 0)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.cfg.RecordTimeout <= 0 {
		r.cfg.RecordTimeout = 2 * time.Second
	}
	return r
}

// Validate checks a request before any upstream work is done
func (r *Relay) Validate(req Request) error {
	if strings.TrimSpace(req.Question) == "" {
		return &ValidationError{Field: "question", Message: "Question is required"}
	}
	if req.Seed == nil {
		if r.cfg.RequireSeed {
			return &ValidationError{Field: "seed", Message: "Seed is required"}
		}
		return nil
	}
	if *req.Seed <= 0 {
		return &ValidationError{Field: "seed", Message: "Seed must be a positive integer"}
	}
	return nil
}

// Generate streams the solution for req into sink. The returned Outcome
// tells the transport how the generation ended.
func (r *Relay) Generate(ctx context.Context, req Request, sink Sink) (out Outcome) {
	start := r.now()
	out = newOutcome(ModeStream, req)
	defer func() { r.finish(ctx, &out, start) }()

	chatReq, cred, ok := r.prepare(req, &out)
	if !ok {
		return out
	}
	chatReq.Stream = true

	out.State = StateUpstreamConnecting
	var stream *llm.Stream
	err := r.breaker.Call(func() error {
		var res retry.Result
		stream, res = retry.Do(ctx, r.retryPolicy(&out), func(ctx context.Context) (*llm.Stream, error) {
			return r.client.StreamChatCompletion(ctx, string(cred), chatReq)
		})
		out.Attempts = res.Attempts
		return res.Err
	})
	if err != nil {
		r.failOpen(ctx, &out, err)
		return out
	}
	defer stream.Close()

	out.State = StateStreaming
	for chunk := range stream.Chunks() {
		text := chunk.Text()
		if text == "" {
			continue
		}
		if err := sink.Write(text); err != nil {
			out.fail(StateAbandoned, StageDeliver, err)
			return out
		}
		out.Fragments++
		out.Bytes += len(text)
	}

	if err := stream.Err(); err != nil {
		switch {
		case ctx.Err() != nil:
			out.fail(StateAbandoned, StageStream, err)
		case out.Fragments == 0:
			out.fail(StateFailedEarly, StageStream, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
		default:
			out.fail(StateFailedMidStream, StageStream, &MidStreamError{
				Fragments: out.Fragments,
				Bytes:     out.Bytes,
				Err:       err,
			})
		}
		return out
	}

	if err := sink.Close(); err != nil {
		out.fail(StateAbandoned, StageDeliver, err)
		return out
	}
	out.State = StateCompleted
	return out
}

// Solve generates the whole solution without streaming and returns it
// trimmed.
func (r *Relay) Solve(ctx context.Context, req Request) (solution string, out Outcome) {
	start := r.now()
	out = newOutcome(ModeSolve, req)
	defer func() { r.finish(ctx, &out, start) }()

	chatReq, cred, ok := r.prepare(req, &out)
	if !ok {
		return "", out
	}

	out.State = StateUpstreamConnecting
	var resp *llm.ChatResponse
	err := r.breaker.Call(func() error {
		var res retry.Result
		resp, res = retry.Do(ctx, r.retryPolicy(&out), func(ctx context.Context) (*llm.ChatResponse, error) {
			return r.client.ChatCompletion(ctx, string(cred), chatReq)
		})
		out.Attempts = res.Attempts
		return res.Err
	})
	if err != nil {
		r.failOpen(ctx, &out, err)
		return "", out
	}

	solution = resp.Content()
	if solution == "" {
		out.fail(StateFailedEarly, StageStream, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrEmptySolution))
		return "", out
	}

	out.Fragments = 1
	out.Bytes = len(solution)
	out.State = StateCompleted
	return solution, out
}

// prepare validates req, builds the upstream request and acquires a
// credential. It reports false when the request was rejected.
func (r *Relay) prepare(req Request, out *Outcome) (llm.ChatRequest, keys.Credential, bool) {
	if err := r.Validate(req); err != nil {
		out.fail(StateIdle, StageValidate, err)
		return llm.ChatRequest{}, "", false
	}

	p := r.prompts.Build(strings.TrimSpace(req.Question), req.Seed)
	out.State = StatePromptBuilt

	cred, idx := r.rotator.Next()
	out.CredentialIndex = idx
	out.fingerprint = keys.Fingerprint(cred)
	out.State = StateKeyAcquired

	return llm.ChatRequest{
		Model:       r.cfg.Model,
		Messages:    p.Messages(),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}, cred, true
}

func (r *Relay) failOpen(ctx context.Context, out *Outcome, err error) {
	if ctx.Err() != nil {
		out.fail(StateAbandoned, StageConnect, err)
		return
	}
	out.fail(StateFailedEarly, StageConnect, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
}

func (r *Relay) retryPolicy(out *Outcome) retry.Policy {
	p := r.cfg.Retry
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("upstream rate limited, retrying",
			zap.String("credential", out.fingerprint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", privacy.SanitizeForLogging(err.Error())),
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	return p
}

func newOutcome(mode Mode, req Request) Outcome {
	return Outcome{
		Mode:            mode,
		Source:          req.Source,
		State:           StateIdle,
		Seed:            req.Seed,
		QuestionLength:  len(strings.TrimSpace(req.Question)),
		CredentialIndex: -1,
	}
}

// finish logs the outcome and records it. Rejected requests are logged only.
func (r *Relay) finish(ctx context.Context, out *Outcome, start time.Time) {
	out.Duration = r.now().Sub(start)

	fields := []zap.Field{
		zap.String("mode", string(out.Mode)),
		zap.String("source", out.Source),
		zap.String("state", out.State.String()),
		zap.Int("question_length", out.QuestionLength),
		zap.Int("attempts", out.Attempts),
		zap.Int("fragments", out.Fragments),
		zap.Int("bytes", out.Bytes),
		zap.Duration("duration", out.Duration),
	}
	if out.fingerprint != "" {
		fields = append(fields, zap.String("credential", out.fingerprint), zap.Int("credential_index", out.CredentialIndex))
	}
	if out.Err != nil {
		fields = append(fields,
			zap.String("stage", string(out.Stage)),
			zap.String("error", privacy.SanitizeForLogging(out.Err.Error())),
		)
	}

	switch {
	case out.IsValidation():
		r.logger.Debug("generation rejected", fields...)
	case out.State == StateCompleted:
		r.logger.Info("generation completed", fields...)
	case out.State == StateAbandoned:
		r.logger.Warn("generation abandoned", fields...)
	default:
		r.logger.Error("generation failed", fields...)
	}

	if !out.State.Terminal() || r.recorder == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RecordTimeout)
	defer cancel()

	rec := &store.Record{
		Source:          out.Source,
		Mode:            string(out.Mode),
		Seed:            out.Seed,
		QuestionLength:  out.QuestionLength,
		CredentialIndex: out.CredentialIndex,
		Attempts:        out.Attempts,
		State:           out.State.String(),
		FailureStage:    string(out.Stage),
		Fragments:       out.Fragments,
		Bytes:           out.Bytes,
		Duration:        out.Duration,
	}
	if err := r.recorder.RecordGeneration(recCtx, rec); err != nil {
		r.logger.Error("failed to record generation", zap.Error(err))
	}
}
