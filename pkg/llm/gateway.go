package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/observe"
)

// TraceFunc receives gateway trace events. The conversation service passes
// a closure that appends them to the transcript as system events; the
// gateway itself never touches storage.
type TraceFunc func(name string, payload map[string]any)

// Gateway wraps the provider with the uniform call policy: hard timeout
// (no retry on timeout), one jittered retry on transient transport errors,
// strict JSON parse, and per-kind schema validation.
type Gateway struct {
	provider Provider
	cfg      config.LLMConfig
	metrics  *observe.Metrics

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewGateway creates the gateway. metrics may be nil (telemetry disabled).
func NewGateway(provider Provider, cfg config.LLMConfig, metrics *observe.Metrics) *Gateway {
	return &Gateway{provider: provider, cfg: cfg, metrics: metrics, sleep: time.Sleep}
}

// Call runs one completion for kind and returns the schema-validated raw
// JSON result. summary is a pre-masked, PII-free description of the payload
// recorded in the trace; the raw result itself is traced only as a hash.
func (g *Gateway) Call(ctx context.Context, kind Kind, systemPrompt, userPrompt, summary string, tracef TraceFunc) (json.RawMessage, error) {
	if tracef == nil {
		tracef = func(string, map[string]any) {}
	}
	ctx, span := observe.StartSpan(ctx, "llm.call",
		trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()
	start := time.Now()

	req := Request{
		Kind:         kind,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	}
	switch kind {
	case KindClassifier:
		req.Model = g.cfg.ClassifierModel
		req.Temperature = g.cfg.ClassifierTemperature
		req.MaxTokens = g.cfg.ClassifierMaxTokens
	case KindStep:
		req.Model = g.cfg.StepModel
		req.Temperature = g.cfg.StepTemperature
		req.MaxTokens = g.cfg.StepMaxTokens
	default:
		return nil, fmt.Errorf("unknown llm call kind %q", kind)
	}

	tracef("IA_CALL_START", map[string]any{"kind": string(kind), "model": req.Model})
	tracef("IA_CALL_PAYLOAD_SUMMARY", map[string]any{"kind": string(kind), "summary": summary})

	raw, err := g.complete(ctx, req)
	status := "ok"
	if err != nil {
		switch {
		case errors.Is(err, ErrTimeout):
			status = "timeout"
		default:
			status = "transport"
		}
	}
	if err != nil {
		g.metrics.RecordLLMCall(ctx, string(kind), status, time.Since(start).Seconds())
		span.RecordError(err)
		return nil, err
	}

	sum := sha256.Sum256([]byte(raw))
	tracef("IA_CALL_RESULT_RAW", map[string]any{
		"kind":   string(kind),
		"sha256": hex.EncodeToString(sum[:]),
		"bytes":  len(raw),
	})

	parsed, err := g.validate(kind, raw)
	if err != nil {
		if errors.Is(err, ErrInvalidJSON) {
			status = "invalid_json"
		} else {
			status = "schema"
		}
		tracef("IA_CALL_VALIDATION_FAIL", map[string]any{"kind": string(kind), "reason": status, "error": err.Error()})
		g.metrics.RecordLLMCall(ctx, string(kind), status, time.Since(start).Seconds())
		span.RecordError(err)
		return nil, err
	}

	g.metrics.RecordLLMCall(ctx, string(kind), "ok", time.Since(start).Seconds())
	return parsed, nil
}

// complete races the provider against the hard timeout and retries once on
// transient transport errors. Timeouts are never retried.
func (g *Gateway) complete(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	raw, err := g.provider.Complete(callCtx, req)
	if err == nil {
		return raw, nil
	}
	if timedOut(callCtx, err) {
		return "", fmt.Errorf("%w: after %v", ErrTimeout, g.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// One retry with short jittered backoff.
	g.sleep(time.Duration(50+rand.IntN(150)) * time.Millisecond)

	retryCtx, cancelRetry := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancelRetry()
	raw, retryErr := g.provider.Complete(retryCtx, req)
	if retryErr == nil {
		return raw, nil
	}
	if timedOut(retryCtx, retryErr) {
		return "", fmt.Errorf("%w: after %v", ErrTimeout, g.cfg.Timeout)
	}
	return "", fmt.Errorf("%w: %v (retry: %v)", ErrTransport, err, retryErr)
}

// validate parses and schema-checks a raw result, tolerating markdown code
// fences around the JSON body.
func (g *Gateway) validate(kind Kind, raw string) (json.RawMessage, error) {
	body := stripFences(raw)
	if !json.Valid([]byte(body)) {
		return nil, fmt.Errorf("%w: %.80s", ErrInvalidJSON, body)
	}

	result, err := schemas[kind].Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
	}
	return json.RawMessage(body), nil
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
