package convo

import (
	"context"
	"sync"
	"time"

	"matchbot/internal/cache"
)

const sessionTTL = 24 * time.Hour

// Sessions remembers which candidate a chat user is looking at.
type Sessions interface {
	Current(ctx context.Context, externalID string) (int64, bool, error)
	SetCurrent(ctx context.Context, externalID string, candidateID int64) error
	Clear(ctx context.Context, externalID string) error
}

// MemorySessions keeps sessions in process memory.
type MemorySessions struct {
	mu      sync.Mutex
	current map[string]int64
}

// NewMemorySessions returns an empty in-process store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{current: map[string]int64{}}
}

func (m *MemorySessions) Current(_ context.Context, externalID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.current[externalID]
	return id, ok, nil
}

func (m *MemorySessions) SetCurrent(_ context.Context, externalID string, candidateID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[externalID] = candidateID
	return nil
}

func (m *MemorySessions) Clear(_ context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.current, externalID)
	return nil
}

// RedisSessions shares sessions between bot instances.
type RedisSessions struct {
	redis *cache.Redis
}

// NewRedisSessions stores sessions in r.
func NewRedisSessions(r *cache.Redis) *RedisSessions {
	return &RedisSessions{redis: r}
}

type sessionState struct {
	CandidateID int64 `json:"candidate_id"`
}

func sessionKey(externalID string) string {
	return "matchbot:session:" + externalID
}

func (s *RedisSessions) Current(ctx context.Context, externalID string) (int64, bool, error) {
	var st sessionState
	ok, err := s.redis.GetJSON(ctx, sessionKey(externalID), &st)
	if err != nil || !ok {
		return 0, false, err
	}
	return st.CandidateID, true, nil
}

func (s *RedisSessions) SetCurrent(ctx context.Context, externalID string, candidateID int64) error {
	return s.redis.SetJSON(ctx, sessionKey(externalID), sessionState{CandidateID: candidateID}, sessionTTL)
}

func (s *RedisSessions) Clear(ctx context.Context, externalID string) error {
	return s.redis.Delete(ctx, sessionKey(externalID))
}
