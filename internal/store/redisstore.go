package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-meet/config"
	"github.com/mossy-p/webrtc-meet/internal/models"
)

// RedisStore keeps room metadata and presence in Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisStore{client: client}, nil
}

// StoreRoom saves room metadata and its code mapping with RoomTTL
func (s *RedisStore) StoreRoom(ctx context.Context, room *models.RoomMetadata) error {
	roomData, err := json.Marshal(room)
	if err != nil {
		return errors.Wrap(err, "marshal room")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(room.ID), roomData, RoomTTL)
	// Store code-to-ID mapping for easy lookup
	if room.Code != "" {
		pipe.Set(ctx, codeKey(room.Code), room.ID, RoomTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "store room %s", room.ID)
	}
	return nil
}

// LoadRoom returns the metadata of roomID or ErrRoomNotFound
func (s *RedisStore) LoadRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	roomData, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load room %s", roomID)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(roomData), &room); err != nil {
		return nil, errors.Wrap(err, "failed to parse room data")
	}
	return &room, nil
}

// ResolveCode maps a short code to its room ID
func (s *RedisStore) ResolveCode(ctx context.Context, code string) (string, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "resolve code %s", code)
	}
	return id, nil
}

// DeleteRoom removes every key belonging to the room
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := s.LoadRoom(ctx, roomID)
	if err != nil {
		return err
	}

	keys := []string{roomKey(roomID), peersKey(roomID)}
	if room.Code != "" {
		keys = append(keys, codeKey(room.Code))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "delete room %s", roomID)
	}
	return nil
}

// AddPeer adds connID to the room's presence set and refreshes its TTL
func (s *RedisStore) AddPeer(ctx context.Context, roomID, connID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, peersKey(roomID), connID)
	pipe.Expire(ctx, peersKey(roomID), RoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "add peer %s to room %s", connID, roomID)
	}
	return nil
}

// RemovePeer removes connID from the room's presence set
func (s *RedisStore) RemovePeer(ctx context.Context, roomID, connID string) error {
	if err := s.client.SRem(ctx, peersKey(roomID), connID).Err(); err != nil {
		return errors.Wrapf(err, "remove peer %s from room %s", connID, roomID)
	}
	return nil
}

// PeerCount returns the size of the room's presence set
func (s *RedisStore) PeerCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "count peers in room %s", roomID)
	}
	return int(n), nil
}

// ClearPeers drops the room's presence set
func (s *RedisStore) ClearPeers(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, peersKey(roomID)).Err(); err != nil {
		return errors.Wrapf(err, "clear peers of room %s", roomID)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
