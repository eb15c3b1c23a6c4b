package cache

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/solace-app/coachsync/internal/message"
)

// Store keeps a per-user snapshot of the most recent messages so the UI
// can paint instantly on cold start, before the remote fetch resolves.
// It is a performance cache only: never authoritative, and every failure
// degrades to "empty".
type Store struct {
	rdb   *redis.Client
	aead  cipher.AEAD
	limit int
}

// New builds a Store sealing payloads at rest with key (32 bytes,
// chacha20poly1305). limit caps how many trailing messages are kept.
func New(rdb *redis.Client, key []byte, limit int) (*Store, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cache: bad seal key: %w", err)
	}
	if limit <= 0 {
		limit = 300
	}
	return &Store{rdb: rdb, aead: aead, limit: limit}, nil
}

func cacheKey(userID uint64) string {
	return fmt.Sprintf("coachsync:cache:%d", userID)
}

// Save overwrites the cached snapshot with the trailing messages of msgs.
// Best effort: errors are logged and swallowed, never surfaced.
func (s *Store) Save(ctx context.Context, userID uint64, msgs []message.Message) {
	payload, err := s.seal(message.Tail(msgs, s.limit))
	if err != nil {
		log.Printf("[cache] seal failed user=%d err=%v", userID, err)
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(userID), payload, 0).Err(); err != nil {
		log.Printf("[cache] save failed user=%d err=%v", userID, err)
	}
}

// Load returns the cached snapshot, or nil when the key is absent or the
// payload cannot be opened/decoded. Corrupt data is treated as empty.
func (s *Store) Load(ctx context.Context, userID uint64) []message.Message {
	raw, err := s.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[cache] load failed user=%d err=%v", userID, err)
		}
		return nil
	}
	msgs, err := s.open(raw)
	if err != nil {
		log.Printf("[cache] corrupt payload user=%d err=%v", userID, err)
		return nil
	}
	return msgs
}

func (s *Store) Clear(ctx context.Context, userID uint64) {
	if err := s.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		log.Printf("[cache] clear failed user=%d err=%v", userID, err)
	}
}

func (s *Store) seal(msgs []message.Message) ([]byte, error) {
	plain, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) open(raw []byte) ([]message.Message, error) {
	if len(raw) < s.aead.NonceSize() {
		return nil, errors.New("payload too short")
	}
	nonce, box := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, err
	}
	var msgs []message.Message
	if err := json.Unmarshal(plain, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
