package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

const requestTimeout = 10 * time.Second

// API talks to the HTTP side of the signaling server
type API struct {
	base   string
	client *http.Client
}

// NewAPI creates a client for the server at base, an http(s) origin
func NewAPI(base string) *API {
	return &API{
		base: base,
		client: &http.Client{
			Timeout: requestTimeout,
			// /new answers with a redirect we want to read, not follow
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewRoom asks the server for a fresh room ID
func (a *API) NewRoom(ctx context.Context) (string, error) {
	resp, err := a.do(ctx, http.MethodGet, "/new", "", nil)
	if err != nil {
		return "", errors.Wrap(err, "request new room")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", errors.Errorf("request new room: unexpected status %s", resp.Status)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("request new room: missing redirect location")
	}
	return path.Base(loc), nil
}

// RoomInfo returns the live participant count of a room by ID or code
func (a *API) RoomInfo(ctx context.Context, room string) (models.RoomInfo, error) {
	var info models.RoomInfo
	resp, err := a.do(ctx, http.MethodGet, "/room/"+url.PathEscape(room), "", nil)
	if err != nil {
		return info, errors.Wrap(err, "fetch room info")
	}
	defer resp.Body.Close()

	if err := decode(resp, http.StatusOK, &info); err != nil {
		return info, errors.Wrap(err, "fetch room info")
	}
	return info, nil
}

// Reserve logs in as user and reserves a room with a shareable code
func (a *API) Reserve(ctx context.Context, user string, maxParticipants int) (models.CreateRoomResponse, error) {
	var room models.CreateRoomResponse

	token, err := a.login(ctx, user)
	if err != nil {
		return room, err
	}

	var body any
	if maxParticipants > 0 {
		body = models.CreateRoomRequest{MaxParticipants: maxParticipants}
	}
	resp, err := a.do(ctx, http.MethodPost, "/api/rooms", token, body)
	if err != nil {
		return room, errors.Wrap(err, "reserve room")
	}
	defer resp.Body.Close()

	if err := decode(resp, http.StatusCreated, &room); err != nil {
		return room, errors.Wrap(err, "reserve room")
	}
	return room, nil
}

func (a *API) login(ctx context.Context, user string) (string, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{"username": user})
	if err != nil {
		return "", errors.Wrap(err, "login")
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	if err := decode(resp, http.StatusOK, &out); err != nil {
		return "", errors.Wrap(err, "login")
	}
	return out.Token, nil
}

func (a *API) do(ctx context.Context, method, p, token string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+p, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.client.Do(req)
}

func decode(resp *http.Response, want int, v any) error {
	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
