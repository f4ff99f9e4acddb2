package snowflake

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"
)

func TestProperty_SnowflakeIDUniqueness(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("all generated IDs are unique", prop.ForAll(
		func(count int) bool {
			g, err := NewGenerator(Config{WorkerID: 1})
			if err != nil {
				return false
			}
			ids := make(map[int64]bool, count)
			for range count {
				id, err := g.NextID()
				if err != nil || ids[id] {
					return false
				}
				ids[id] = true
			}
			return len(ids) == count
		},
		gen.IntRange(100, 1000),
	))

	properties.Property("worker id round trips", prop.ForAll(
		func(worker int64) bool {
			g, err := NewGenerator(Config{WorkerID: worker})
			if err != nil {
				return false
			}
			id, err := g.NextID()
			if err != nil {
				return false
			}
			_, w, _ := g.Parse(id)
			return w == worker
		},
		gen.Int64Range(0, MaxWorkerID),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// IDs stay strictly increasing for any forward-moving clock, including
// many ids inside the same millisecond.
func TestProperty_MonotonicUnderClock(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g, err := NewGenerator(Config{WorkerID: rapid.Int64Range(0, MaxWorkerID).Draw(t, "worker")})
		if err != nil {
			t.Fatal(err)
		}
		now := Epoch + rapid.Int64Range(0, 1<<40).Draw(t, "start")
		g.now = func() int64 { return now }

		steps := rapid.SliceOfN(rapid.Int64Range(0, 3), 1, 200).Draw(t, "steps")
		var last int64 = -1
		for _, step := range steps {
			now += step
			id, err := g.NextID()
			if err != nil {
				t.Fatalf("NextID: %v", err)
			}
			if id <= last {
				t.Fatalf("id %d not greater than %d", id, last)
			}
			if ts, _, _ := g.Parse(id); ts != now {
				t.Fatalf("timestamp %d, want %d", ts, now)
			}
			last = id
		}
	})
}
