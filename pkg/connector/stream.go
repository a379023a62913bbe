// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// eventStream is the realtime event feed of a connected session. Tests
// substitute a channel-backed fake instead of a real WebSocket.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

// streamDialer opens an event stream for the given WebSocket URL and token.
type streamDialer func(wsURL, token string) (eventStream, error)

// websocketStream adapts model.WebSocketClient to eventStream.
type websocketStream struct {
	ws *model.WebSocketClient
}

func (s *websocketStream) Events() <-chan *model.WebSocketEvent {
	return s.ws.EventChannel
}

func (s *websocketStream) Close() {
	s.ws.Close()
}

func dialWebSocket(wsURL, token string) (eventStream, error) {
	ws, err := model.NewWebSocketClient4(wsURL, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	return &websocketStream{ws: ws}, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
