// Package cache puts a Redis read-through in front of the session store.
// Session validation runs on every request the platform serves, so the hot
// token lookup is cached with a short TTL; every mutation writes through
// and invalidates. The cache is strictly optional: a nil client leaves the
// underlying store untouched.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sitewright.io/internal/access"
)

// maxEntryTTL bounds staleness between the cache and the database.
const maxEntryTTL = time.Minute

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// SessionStore decorates an access.Store with cached token lookups.
type SessionStore struct {
	access.Store
	client *redis.Client
	log    zerolog.Logger
}

// Wrap returns the store unchanged when client is nil.
func Wrap(store access.Store, client *redis.Client, log zerolog.Logger) access.Store {
	if client == nil {
		return store
	}
	return &SessionStore{Store: store, client: client, log: log}
}

func tokenKey(token string) string { return "uas:session:" + token }
func idKey(id string) string       { return "uas:sessionid:" + id }

func (s *SessionStore) GetSessionByToken(ctx context.Context, token string) (*access.Session, error) {
	if data, err := s.client.Get(ctx, tokenKey(token)).Bytes(); err == nil {
		var cached access.Session
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Token = token
			return &cached, nil
		}
	} else if err != redis.Nil {
		s.log.Warn().Err(err).Msg("session cache read failed")
	}
	session, err := s.Store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	s.put(ctx, session)
	return session, nil
}

func (s *SessionStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	// Last-activity drift inside the entry TTL is harmless; the entry
	// expires on its own.
	return s.Store.TouchSession(ctx, id, at)
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	// A revoked token must stop validating immediately, not when the
	// cache entry times out. The id-to-token key recorded at put time
	// locates the cached copy.
	if token, err := s.client.Get(ctx, idKey(id)).Result(); err == nil {
		if err := s.client.Del(ctx, tokenKey(token), idKey(id)).Err(); err != nil {
			s.log.Warn().Err(err).Msg("session cache invalidate failed")
		}
	} else if err != redis.Nil {
		s.log.Warn().Err(err).Msg("session cache read failed")
	}
	return s.Store.DeleteSession(ctx, id)
}

func (s *SessionStore) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.Store.DeleteSessionsByUser(ctx, userID)
	if err == nil && n > 0 {
		// Revocation must not wait out the TTL; drop every cached session.
		if err := s.flush(ctx); err != nil {
			s.log.Warn().Err(err).Msg("session cache flush failed")
		}
	}
	return n, err
}

func (s *SessionStore) put(ctx context.Context, session *access.Session) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if ttl > maxEntryTTL {
		ttl = maxEntryTTL
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, tokenKey(session.Token), data, ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("session cache write failed")
	}
	if err := s.client.Set(ctx, idKey(session.ID), session.Token, ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("session cache write failed")
	}
}

func (s *SessionStore) flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, "uas:session*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
