// Package resolver maps a room identifier to the host and credential used to
// join it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/omochice/roomchat/pkg/protocol"
)

// maxResponseBytes bounds the lookup body read.
const maxResponseBytes = 64 << 10

// Resolver looks up connection info for a room. A returned ConnectionInfo
// whose Found reports false means the room does not exist; an error means
// the lookup itself failed.
type Resolver interface {
	Lookup(ctx context.Context, roomID, authToken string) (protocol.ConnectionInfo, error)
}

// Func adapts an ordinary function to a Resolver.
type Func func(ctx context.Context, roomID, authToken string) (protocol.ConnectionInfo, error)

// Lookup implements Resolver.
func (f Func) Lookup(ctx context.Context, roomID, authToken string) (protocol.ConnectionInfo, error) {
	return f(ctx, roomID, authToken)
}

// Error is a network or HTTP failure during lookup.
type Error struct {
	RoomID     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("room lookup %q failed with status %d: %v", e.RoomID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("room lookup %q failed: %v", e.RoomID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPResolver queries the lobby service over HTTP:
//
//	GET {BaseURL}/api/rooms/{roomID}
//	Authorization: Bearer {authToken}
//
// 200 carries {"host": ..., "token": ...}; 404 means not found.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver for the lobby at baseURL. A nil client
// gets a default with a 10 second timeout.
func NewHTTPResolver(baseURL string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Lookup implements Resolver.
func (r *HTTPResolver) Lookup(ctx context.Context, roomID, authToken string) (protocol.ConnectionInfo, error) {
	endpoint := r.baseURL + "/api/rooms/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.ConnectionInfo{}, &Error{RoomID: roomID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return protocol.ConnectionInfo{}, &Error{RoomID: roomID, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return protocol.ConnectionInfo{}, nil
	default:
		return protocol.ConnectionInfo{}, &Error{
			RoomID:     roomID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return protocol.ConnectionInfo{}, &Error{RoomID: roomID, StatusCode: resp.StatusCode, Err: err}
	}

	var info protocol.ConnectionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return protocol.ConnectionInfo{}, &Error{
			RoomID:     roomID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode lookup response: %w", err),
		}
	}
	return info, nil
}
