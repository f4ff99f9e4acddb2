package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Layout: 41 bits of milliseconds since Epoch | 10 bits worker | 12 bits sequence.
const (
	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000

	WorkerIDBits = 10
	SequenceBits = 12

	MaxWorkerID  = -1 ^ (-1 << WorkerIDBits)
	sequenceMask = -1 ^ (-1 << SequenceBits)

	workerShift    = SequenceBits
	timestampShift = SequenceBits + WorkerIDBits

	// maxBackwardSkew is how far the clock may step back before NextID gives up.
	maxBackwardSkew = 5 * time.Millisecond
)

var (
	ErrInvalidWorkerID     = errors.New("worker ID out of range")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

type Config struct {
	WorkerID int64
	// Epoch overrides the default epoch; zero keeps Epoch.
	Epoch int64
}

// Generator issues 63-bit ids that are unique per worker and increase with time.
type Generator struct {
	mu       sync.Mutex
	epoch    int64
	workerID int64
	sequence int64
	lastMs   int64
	now      func() int64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.WorkerID < 0 || cfg.WorkerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	epoch := cfg.Epoch
	if epoch == 0 {
		epoch = Epoch
	}
	return &Generator{
		epoch:    epoch,
		workerID: cfg.WorkerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs {
		if time.Duration(g.lastMs-ms)*time.Millisecond > maxBackwardSkew {
			return 0, ErrClockMovedBackwards
		}
		ms = g.waitUntil(g.lastMs)
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ms = g.waitUntil(g.lastMs + 1)
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return (ms-g.epoch)<<timestampShift | g.workerID<<workerShift | g.sequence, nil
}

// NextString returns NextID in decimal form, the representation used for message ids.
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// waitUntil spins until the clock reaches ms.
func (g *Generator) waitUntil(ms int64) int64 {
	now := g.now()
	for now < ms {
		time.Sleep(100 * time.Microsecond)
		now = g.now()
	}
	return now
}

// Time returns the wall-clock time encoded in id.
func (g *Generator) Time(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + g.epoch).UTC()
}

// Parse splits id into its timestamp (ms since Unix epoch), worker and sequence.
func (g *Generator) Parse(id int64) (timestampMs, workerID, sequence int64) {
	return (id >> timestampShift) + g.epoch,
		(id >> workerShift) & MaxWorkerID,
		id & sequenceMask
}
