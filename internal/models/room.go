package models

import "time"

// RoomMetadata stores information about a reserved room
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`      // Short, shareable room code (e.g., "ABCD23")
	CreatorID        string    `json:"creatorId"` // User ID from JWT who created the room
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxParticipants int `json:"maxParticipants" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// RoomInfo is the public view of a live room
type RoomInfo struct {
	Room             string `json:"room"`
	ParticipantCount int    `json:"participantCount"`
}

// PeerMessage travels over the peer-to-peer chat data channel. A message with
// Type "name" announces the sender's display name; anything carrying Text is
// a chat line.
type PeerMessage struct {
	Type      string    `json:"type,omitempty"`
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// PeerMessageTypeName marks a display-name announcement on the data channel
const PeerMessageTypeName = "name"
