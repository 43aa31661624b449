// Package store keeps reserved-room metadata and a presence mirror of the
// registry outside the relay process.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

const (
	// RoomTTL bounds how long room metadata and presence keys live
	RoomTTL = 24 * time.Hour

	// CodeLength is the length of short room codes
	CodeLength = 6
)

// ErrRoomNotFound indicates that the requested room or code is unknown
var ErrRoomNotFound = errors.New("room not found")

// Store persists reserved rooms and mirrors room presence
type Store interface {
	StoreRoom(ctx context.Context, room *models.RoomMetadata) error
	LoadRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error)
	ResolveCode(ctx context.Context, code string) (string, error)
	DeleteRoom(ctx context.Context, roomID string) error

	AddPeer(ctx context.Context, roomID, connID string) error
	RemovePeer(ctx context.Context, roomID, connID string) error
	PeerCount(ctx context.Context, roomID string) (int, error)
	ClearPeers(ctx context.Context, roomID string) error

	Close() error
}

// Resolve maps a room identifier to a room ID. Identifiers of CodeLength
// are looked up as short codes; anything else, or an unknown code, is used
// as the room ID itself.
func Resolve(ctx context.Context, s Store, identifier string) (string, error) {
	if len(identifier) != CodeLength {
		return identifier, nil
	}
	id, err := s.ResolveCode(ctx, identifier)
	if errors.Is(err, ErrRoomNotFound) {
		return identifier, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func roomKey(roomID string) string  { return "room:" + roomID }
func codeKey(code string) string    { return "code:" + code }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }
