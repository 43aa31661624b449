package store

import (
	"context"
	"sync"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

// LocalStore is a single-node, in-memory store. Nothing survives the process.
type LocalStore struct {
	lock  sync.RWMutex
	rooms map[string]*models.RoomMetadata
	codes map[string]string
	peers map[string]map[string]struct{}
}

// NewLocalStore creates an empty in-process store
func NewLocalStore() *LocalStore {
	return &LocalStore{
		rooms: make(map[string]*models.RoomMetadata),
		codes: make(map[string]string),
		peers: make(map[string]map[string]struct{}),
	}
}

// StoreRoom saves room metadata and its code mapping
func (s *LocalStore) StoreRoom(_ context.Context, room *models.RoomMetadata) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	r := *room
	s.rooms[room.ID] = &r
	if room.Code != "" {
		s.codes[room.Code] = room.ID
	}
	return nil
}

// LoadRoom returns a copy of the metadata of roomID or ErrRoomNotFound
func (s *LocalStore) LoadRoom(_ context.Context, roomID string) (*models.RoomMetadata, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	room := s.rooms[roomID]
	if room == nil {
		return nil, ErrRoomNotFound
	}
	r := *room
	return &r, nil
}

// ResolveCode maps a short code to its room ID
func (s *LocalStore) ResolveCode(_ context.Context, code string) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return "", ErrRoomNotFound
	}
	return id, nil
}

// DeleteRoom removes everything recorded for the room
func (s *LocalStore) DeleteRoom(_ context.Context, roomID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	room := s.rooms[roomID]
	if room == nil {
		return ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	delete(s.codes, room.Code)
	delete(s.peers, roomID)
	return nil
}

// AddPeer records connID as present in roomID
func (s *LocalStore) AddPeer(_ context.Context, roomID, connID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	set := s.peers[roomID]
	if set == nil {
		set = make(map[string]struct{})
		s.peers[roomID] = set
	}
	set[connID] = struct{}{}
	return nil
}

// RemovePeer forgets connID in roomID
func (s *LocalStore) RemovePeer(_ context.Context, roomID, connID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if set := s.peers[roomID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(s.peers, roomID)
		}
	}
	return nil
}

// PeerCount returns how many connections are present in roomID
func (s *LocalStore) PeerCount(_ context.Context, roomID string) (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.peers[roomID]), nil
}

// ClearPeers forgets every connection in roomID
func (s *LocalStore) ClearPeers(_ context.Context, roomID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.peers, roomID)
	return nil
}

// Close does nothing; the store lives in memory
func (s *LocalStore) Close() error {
	return nil
}
