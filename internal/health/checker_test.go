package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunChecksRecordsResults(t *testing.T) {
	c := NewChecker(DefaultConfig(), nil)
	c.Register("store", func(ctx context.Context) error { return nil })
	c.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	c.RunChecks(context.Background())

	results := c.Snapshot()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byName := make(map[string]Result)
	for _, r := range results {
		byName[r.Name] = r
	}
	if !byName["store"].Healthy {
		t.Error("store should be healthy")
	}
	if byName["redis"].Healthy {
		t.Error("redis should be unhealthy")
	}
	if byName["redis"].Error != "connection refused" {
		t.Errorf("redis error = %q", byName["redis"].Error)
	}
	if byName["store"].CheckedAt.IsZero() {
		t.Error("expected checked_at to be set")
	}
}

func TestHealthyAggregates(t *testing.T) {
	c := NewChecker(DefaultConfig(), nil)
	if !c.Healthy() {
		t.Error("checker with no results should report healthy")
	}

	c.Register("ok", func(ctx context.Context) error { return nil })
	c.RunChecks(context.Background())
	if !c.Healthy() {
		t.Error("expected healthy with passing check")
	}

	c.Register("bad", func(ctx context.Context) error { return errors.New("down") })
	c.RunChecks(context.Background())
	if c.Healthy() {
		t.Error("expected unhealthy with failing check")
	}
}

func TestProbeTimeoutApplies(t *testing.T) {
	cfg := Config{Interval: time.Minute, ProbeTimeout: 20 * time.Millisecond}
	c := NewChecker(cfg, nil)
	c.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	c.RunChecks(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("probe did not time out, took %v", elapsed)
	}
	if c.Healthy() {
		t.Error("timed-out check should report unhealthy")
	}
}

func TestStartStopRunsInitialRound(t *testing.T) {
	cfg := Config{Interval: time.Hour, ProbeTimeout: time.Second}
	c := NewChecker(cfg, nil)
	ran := make(chan struct{}, 1)
	c.Register("probe", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	c.Start()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("initial probe round never ran")
	}
	c.Stop()
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker(DefaultConfig(), nil)
	c.Register("dep", func(ctx context.Context) error { return errors.New("v1") })
	c.Register("dep", func(ctx context.Context) error { return nil })
	c.RunChecks(context.Background())
	if !c.Healthy() {
		t.Error("replaced check should report healthy")
	}
}
