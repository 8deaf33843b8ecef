// Command pipelinekit-demo wires a complete pipeline end to end: a
// rate-limited, back-pressure-gated, retried "CreateOrder" command
// flowing through authorization, sanitization, rate-limiting, and tracing
// middleware
// to a terminal handler, dispatched through a PipelineRegistry.
//
// Static bootstrap settings come from config.yaml (goccy/go-yaml);
// PIPELINEKIT_DISABLE_NEXTGUARD_WARNINGS is read from an optional .env
// via godotenv for local convenience. Neither is required — every
// component here also takes its configuration as explicit constructor
// arguments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/pipelinekit/pipelinekit"
	"github.com/pipelinekit/pipelinekit/pkg/middleware/authz"
	"github.com/pipelinekit/pipelinekit/pkg/middleware/ctrl"
	"github.com/pipelinekit/pipelinekit/pkg/middleware/observability"
	"github.com/pipelinekit/pipelinekit/pkg/middleware/sanitize"
)

// bootstrapConfig mirrors config.yaml's shape.
type bootstrapConfig struct {
	Pipeline struct {
		MaxConcurrency int    `yaml:"maxConcurrency"`
		Timeout        string `yaml:"timeout"`
	} `yaml:"pipeline"`
	RateLimit struct {
		RatePerSecond int `yaml:"ratePerSecond"`
		Burst         int `yaml:"burst"`
	} `yaml:"rateLimit"`
}

const defaultConfigYAML = `
pipeline:
  maxConcurrency: 4
  timeout: 2s
rateLimit:
  ratePerSecond: 50
  burst: 10
`

// CreateOrder is the demo command.
type CreateOrder struct {
	CustomerID string
	Item       string
	Quantity   int
}

// OrderConfirmation is the demo result.
type OrderConfirmation struct {
	OrderID  string
	Total    int
	Item     string
	Quantity int
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded (%v), continuing with process environment", err)
	}
	if os.Getenv("PIPELINEKIT_DISABLE_NEXTGUARD_WARNINGS") == "true" {
		pipelinekit.DisableNextGuardWarnings.Store(true)
	}

	cfg, err := loadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	timeout, err := time.ParseDuration(cfg.Pipeline.Timeout)
	if err != nil {
		log.Fatalf("invalid pipeline.timeout %q: %v", cfg.Pipeline.Timeout, err)
	}

	recorder := observability.NewPrometheusRecorder()
	spanFactory := observability.NoopSpanFactory{}

	limiter := ctrl.NewTokenBucketLimiter(cfg.RateLimit.RatePerSecond, time.Second, cfg.RateLimit.Burst, ctrl.ScopePerKey)
	semaphore := ctrl.NewBackPressureSemaphore(ctrl.BackPressureConfig{
		Capacity: cfg.Pipeline.MaxConcurrency,
		Strategy: ctrl.StrategySuspend,
	})
	retryPolicy := ctrl.NewRetryPolicy(3, 50*time.Millisecond)

	handler := pipelinekit.HandlerFunc[CreateOrder, OrderConfirmation](func(ctx context.Context, cmd CreateOrder) (OrderConfirmation, error) {
		recorder.Record(pipelinekit.MetricSnapshot{Name: "orders_processed_total", Type: pipelinekit.MetricCounter, Value: 1})
		return OrderConfirmation{
			OrderID:  "ord-" + cmd.CustomerID,
			Total:    cmd.Quantity * 100,
			Item:     cmd.Item,
			Quantity: cmd.Quantity,
		}, nil
	})

	authzMW := authz.New[CreateOrder, OrderConfirmation](func(_ context.Context, cmd CreateOrder, _ *pipelinekit.CommandContext) error {
		if cmd.CustomerID == "" {
			return fmt.Errorf("missing customer id")
		}
		return nil
	})

	sanitizeMW := sanitize.New[CreateOrder, OrderConfirmation](func(_ context.Context, cmd CreateOrder, _ *pipelinekit.CommandContext) (CreateOrder, error) {
		if cmd.Quantity < 0 {
			cmd.Quantity = 0
		}
		return cmd, nil
	})

	rateLimitMW := pipelinekit.MiddlewareFunc[CreateOrder, OrderConfirmation]{
		Prio: pipelinekit.PriorityRateLimiting,
		Fn: func(ctx context.Context, cmd CreateOrder, cc *pipelinekit.CommandContext, next pipelinekit.Next[CreateOrder, OrderConfirmation]) (OrderConfirmation, error) {
			allowed, err := limiter.Allow(ctx, cmd.CustomerID, 1)
			if err != nil {
				var zero OrderConfirmation
				return zero, pipelinekit.WrapError(pipelinekit.KindRateLimitExceeded, err, "rate limit exceeded for customer", cc)
			}
			if !allowed {
				var zero OrderConfirmation
				return zero, pipelinekit.NewError(pipelinekit.KindRateLimitExceeded, "rate limit exceeded for customer", cc)
			}
			return next(ctx, cmd, cc)
		},
	}

	tracingMW := pipelinekit.MiddlewareFunc[CreateOrder, OrderConfirmation]{
		Prio: pipelinekit.PriorityProcessing,
		Fn: func(ctx context.Context, cmd CreateOrder, cc *pipelinekit.CommandContext, next pipelinekit.Next[CreateOrder, OrderConfirmation]) (OrderConfirmation, error) {
			ctx, span := spanFactory.StartSpan(ctx, "dispatch-create-order")
			result, err := next(ctx, cmd, cc)
			span.End(err)
			return result, err
		},
	}

	pipeline := pipelinekit.NewPipelineBuilder[CreateOrder, OrderConfirmation](handler).
		Use(authzMW).
		Use(sanitizeMW).
		Use(rateLimitMW).
		Use(tracingMW).
		WithTimeout(timeout).
		WithSemaphore(semaphore).
		WithRetryPolicy(retryPolicy).
		Build()

	registry := pipelinekit.NewPipelineRegistry()
	pipelinekit.Register(registry, "default", pipeline)

	registered, ok := pipelinekit.Lookup[CreateOrder, OrderConfirmation](registry, "default")
	if !ok {
		log.Fatal("pipeline not registered")
	}

	cc := pipelinekit.NewCommandContext(pipelinekit.CommandMetadata{UserID: "demo-user"})
	result, err := registered.Run(context.Background(), CreateOrder{
		CustomerID: "cust-42",
		Item:       "widget",
		Quantity:   3,
	}, cc)
	if err != nil {
		log.Fatalf("dispatch failed: %v", err)
	}

	fmt.Printf("order confirmed: %+v\n", result)

	// Also demonstrate the type-erased path a generic front door would use.
	anyResult, err := registry.Dispatch(context.Background(), CreateOrder{CustomerID: "cust-7", Item: "gadget", Quantity: 1},
		pipelinekit.NewCommandContext(pipelinekit.CommandMetadata{UserID: "demo-user"}), "default")
	if err != nil {
		log.Fatalf("erased dispatch failed: %v", err)
	}
	fmt.Printf("erased dispatch result: %+v\n", anyResult)
}

func loadConfig(path string) (bootstrapConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		raw = []byte(defaultConfigYAML)
	}
	var cfg bootstrapConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return bootstrapConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
