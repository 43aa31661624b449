package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SignalType represents the type of a relayed session-control message
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICE          SignalType = "ice"
	SignalTypeContentStart SignalType = "content-start"
	SignalTypeContentStop  SignalType = "content-stop"
)

// Known reports whether t is one of the relayable signal types
func (t SignalType) Known() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICE, SignalTypeContentStart, SignalTypeContentStop:
		return true
	}
	return false
}

// Envelope is one relayed control message. User is always rewritten by the
// relay from the sender's joined identity.
type Envelope struct {
	Type    SignalType      `json:"type"`
	Room    string          `json:"room"`
	User    string          `json:"user,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription is the payload of offer and answer envelopes
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the payload of ice envelopes. An empty Candidate marks the
// end of gathering.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ContentPayload is carried by content-start (required) and content-stop (optional)
type ContentPayload struct {
	ContentID string `json:"contentId"`
}

// NewEnvelope marshals payload into a new envelope. A nil payload leaves the
// payload field empty.
func NewEnvelope(t SignalType, room, target string, payload any) (Envelope, error) {
	env := Envelope{Type: t, Room: room, Target: target}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = b
	return env, nil
}

// Validate checks structural well-formedness: a known type, a room, and a
// payload of the shape the type requires.
func (e Envelope) Validate() error {
	if !e.Type.Known() {
		return fmt.Errorf("unknown signal type %q", e.Type)
	}
	if e.Room == "" {
		return fmt.Errorf("%s message missing room", e.Type)
	}

	switch e.Type {
	case SignalTypeOffer, SignalTypeAnswer:
		desc, err := e.Description()
		if err != nil {
			return err
		}
		if desc.Type != string(e.Type) {
			return fmt.Errorf("%s message has description type %q", e.Type, desc.Type)
		}
		if desc.SDP == "" {
			return fmt.Errorf("%s message missing sdp", e.Type)
		}
	case SignalTypeICE:
		if _, err := e.Candidate(); err != nil {
			return err
		}
	case SignalTypeContentStart:
		content, err := e.Content()
		if err != nil {
			return err
		}
		if content.ContentID == "" {
			return fmt.Errorf("content-start message missing contentId")
		}
	case SignalTypeContentStop:
		if len(e.Payload) > 0 {
			if _, err := e.Content(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Description decodes an offer or answer payload
func (e Envelope) Description() (SessionDescription, error) {
	var desc SessionDescription
	err := e.decode(&desc)
	return desc, err
}

// Candidate decodes an ice payload
func (e Envelope) Candidate() (ICECandidate, error) {
	var c ICECandidate
	err := e.decode(&c)
	return c, err
}

// Content decodes a content-start or content-stop payload
func (e Envelope) Content() (ContentPayload, error) {
	var c ContentPayload
	if len(e.Payload) == 0 && e.Type == SignalTypeContentStop {
		return c, nil
	}
	err := e.decode(&c)
	return c, err
}

func (e Envelope) decode(v any) error {
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		return fmt.Errorf("%s message missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s message has malformed payload: %w", e.Type, err)
	}
	return nil
}
