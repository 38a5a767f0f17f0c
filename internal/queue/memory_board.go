package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBoard is an in-process Board for tests and single-node mode.
type MemoryBoard struct {
	mu         sync.Mutex
	scores     map[string]float64
	minute     map[int64]*minuteCounter
	processing int64
	now        func() time.Time
}

type minuteCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryBoard creates an empty in-memory board.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		scores: make(map[string]float64),
		minute: make(map[int64]*minuteCounter),
		now:    time.Now,
	}
}

func (b *MemoryBoard) Push(_ context.Context, jobID string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores[jobID] = score
	return nil
}

func (b *MemoryBoard) PopTop(_ context.Context) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	top, ok := b.topLocked()
	if !ok {
		return "", false, nil
	}
	delete(b.scores, top)
	return top, true, nil
}

func (b *MemoryBoard) topLocked() (string, bool) {
	var top string
	var best float64
	found := false
	for id, s := range b.scores {
		if !found || s > best || (s == best && id < top) {
			top, best, found = id, s, true
		}
	}
	return top, found
}

func (b *MemoryBoard) Remove(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scores, jobID)
	return nil
}

func (b *MemoryBoard) Rank(_ context.Context, jobID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	score, ok := b.scores[jobID]
	if !ok {
		return -1, nil
	}
	var rank int64
	for id, s := range b.scores {
		if s > score || (s == score && id < jobID) {
			rank++
		}
	}
	return rank, nil
}

func (b *MemoryBoard) Len(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.scores)), nil
}

func (b *MemoryBoard) IncrMinuteCount(_ context.Context, ownerID int64, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.minute[ownerID]
	if c == nil || b.now().After(c.expiresAt) {
		c = &minuteCounter{}
		b.minute[ownerID] = c
	}
	c.count++
	c.expiresAt = b.now().Add(ttl)
	return nil
}

func (b *MemoryBoard) MinuteCount(_ context.Context, ownerID int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.minute[ownerID]
	if c == nil || b.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.count, nil
}

func (b *MemoryBoard) IncrProcessing(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processing++
	return b.processing, nil
}

func (b *MemoryBoard) DecrProcessing(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processing--
	if b.processing < 0 {
		b.processing = 0
	}
	return b.processing, nil
}

func (b *MemoryBoard) ProcessingCount(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processing, nil
}

// SetClock overrides the board clock used for counter expiry. Test hook.
func (b *MemoryBoard) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
