package balance

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

// Mirror keeps last-known-good balances across restarts. It only seeds an
// address whose first chain read fails; values seeded from it are stale.
type Mirror interface {
	Load(ctx context.Context, address string) (map[string]*big.Int, time.Time, bool, error)
	Store(ctx context.Context, address string, raws map[string]*big.Int, at time.Time) error
}

type redisMirror struct {
	client redis.UniversalClient
	ttl    time.Duration
}

type mirrorDoc struct {
	Balances  map[string]string `json:"balances"`
	UpdatedAt int64             `json:"updated_at"`
}

func NewRedisMirror(client redis.UniversalClient, ttl time.Duration) Mirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisMirror{client: client, ttl: ttl}
}

func (m *redisMirror) Load(ctx context.Context, address string) (map[string]*big.Int, time.Time, bool, error) {
	key := mirrorKey(address)

	b, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	var doc mirrorDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		// dirty entry, drop it so it stops being hit
		_ = m.client.Del(ctx, key).Err()
		return nil, time.Time{}, false, err
	}

	out := make(map[string]*big.Int, len(doc.Balances))
	for sym, s := range doc.Balances {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			_ = m.client.Del(ctx, key).Err()
			return nil, time.Time{}, false, errors.New("balance mirror: bad amount for " + sym)
		}
		out[sym] = v
	}
	return out, time.UnixMilli(doc.UpdatedAt), true, nil
}

func (m *redisMirror) Store(ctx context.Context, address string, raws map[string]*big.Int, at time.Time) error {
	doc := mirrorDoc{Balances: make(map[string]string, len(raws)), UpdatedAt: at.UnixMilli()}
	for sym, v := range raws {
		doc.Balances[sym] = v.String()
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, mirrorKey(address), b, withJitter(m.ttl, time.Minute)).Err()
}

func mirrorKey(address string) string {
	return "paylink:bal:" + address
}

func withJitter(ttl, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
