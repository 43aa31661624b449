package models

import "time"

// FrameType names a websocket frame exchanged between a client and the relay
type FrameType string

const (
	// Client to server
	FrameTypeJoin        FrameType = "join"
	FrameTypeLeave       FrameType = "leave"
	FrameTypeSignal      FrameType = "signal"
	FrameTypeChatMessage FrameType = "chat-message"

	// Server to client
	FrameTypeJoined           FrameType = "joined"
	FrameTypeUserConnected    FrameType = "user-connected"
	FrameTypeUserDisconnected FrameType = "user-disconnected"
	FrameTypeRoomInfo         FrameType = "room-info"
	FrameTypeChatHistory      FrameType = "chat-history"
	FrameTypeError            FrameType = "error"
)

// Frame is the outer message on the signaling websocket. Only the fields
// relevant to Type are populated.
type Frame struct {
	Type             FrameType     `json:"type"`
	Room             string        `json:"room,omitempty"`
	User             string        `json:"user,omitempty"`
	ParticipantCount int           `json:"participantCount,omitempty"`
	Signal           *Envelope     `json:"signal,omitempty"`
	Text             string        `json:"text,omitempty"`
	Sender           string        `json:"sender,omitempty"`
	Timestamp        time.Time     `json:"timestamp,omitzero"`
	Messages         []ChatMessage `json:"messages,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// ChatMessage is a relayed or peer-direct chat line
type ChatMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Error builds an error frame for the sender of a rejected message
func Error(message string) Frame {
	return Frame{Type: FrameTypeError, Message: message}
}

// RoomInfoFrame builds a room-info frame
func RoomInfoFrame(room string, count int) Frame {
	return Frame{Type: FrameTypeRoomInfo, Room: room, ParticipantCount: count}
}

// ChatFrame builds the chat-message frame a room receives for msg. The chat
// fields sit at the top level of the frame.
func ChatFrame(room string, msg ChatMessage) Frame {
	return Frame{
		Type:      FrameTypeChatMessage,
		Room:      room,
		Text:      msg.Text,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp,
	}
}

// ChatMessage returns the chat line carried by a chat-message frame
func (f Frame) ChatMessage() ChatMessage {
	return ChatMessage{Text: f.Text, Sender: f.Sender, Timestamp: f.Timestamp}
}
