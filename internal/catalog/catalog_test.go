package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

func TestStaticLookup(t *testing.T) {
	c := NewStatic(
		model.SessionType{ID: "intro", BuilderID: "b1", SchedulingEventTypeURI: "https://sched.example/event_types/intro"},
		model.SessionType{ID: "deep-dive", BuilderID: "b1", RequiresPayment: true, PriceCents: 5000},
	)
	ctx := context.Background()

	st, err := c.Get(ctx, "deep-dive")
	if err != nil || !st.RequiresPayment || st.PriceCents != 5000 {
		t.Fatalf("Get deep-dive = %+v, %v", st, err)
	}
	st, err = c.ByEventType(ctx, "https://sched.example/event_types/intro")
	if err != nil || st.ID != "intro" {
		t.Fatalf("ByEventType = %+v, %v", st, err)
	}
	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := c.ByEventType(ctx, "https://sched.example/event_types/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing uri err = %v", err)
	}
}

type countingCatalog struct {
	Catalog
	calls int
}

func (c *countingCatalog) Get(ctx context.Context, id string) (*model.SessionType, error) {
	c.calls++
	return c.Catalog.Get(ctx, id)
}

func TestCachedDegradesWhenRedisIsDown(t *testing.T) {
	next := &countingCatalog{Catalog: NewStatic(model.SessionType{ID: "intro", BuilderID: "b1"})}
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	c := NewCached(next, rdb, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		st, err := c.Get(context.Background(), "intro")
		if err != nil || st.ID != "intro" {
			t.Fatalf("Get = %+v, %v", st, err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("backing catalog calls = %d, want 2", next.calls)
	}
	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}
