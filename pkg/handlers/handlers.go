package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracing-gateway/pkg/types"
)

// sendJSON writes a complete JSON response over the send primitive
func sendJSON(ctx context.Context, send types.SendFunc, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	if err := send(ctx, types.Message{
		Type:   types.MessageHTTPResponseStart,
		Status: status,
		Headers: []types.HeaderPair{
			types.Header("content-type", "application/json"),
			types.Header("content-length", strconv.Itoa(len(body))),
		},
	}); err != nil {
		return err
	}

	return send(ctx, types.Message{Type: types.MessageHTTPResponseBody, Body: body})
}

// readBody drains http.request messages until more_body is false
func readBody(ctx context.Context, receive types.ReceiveFunc) ([]byte, error) {
	var body []byte
	for {
		msg, err := receive(ctx)
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case types.MessageHTTPRequest:
			body = append(body, msg.Body...)
			if !msg.MoreBody {
				return body, nil
			}
		case types.MessageHTTPDisconnect:
			return nil, fmt.Errorf("client disconnected before request completed")
		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// EchoApp echoes the request body back with request metadata
func EchoApp(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
	body, err := readBody(ctx, receive)
	if err != nil {
		return err
	}

	var requestID string
	if info, ok := types.ConnInfoFromContext(ctx); ok {
		requestID = info.RequestID
	}

	result := map[string]interface{}{
		"echo":       string(body),
		"method":     scope.Method,
		"path":       scope.Path,
		"request_id": requestID,
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	return sendJSON(ctx, send, http.StatusOK, result)
}

// TimeApp returns the current server time
func TimeApp(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
	now := time.Now()

	var requestID string
	if info, ok := types.ConnInfoFromContext(ctx); ok {
		requestID = info.RequestID
	}

	result := map[string]interface{}{
		"time":       now.Format(time.RFC3339),
		"unix":       now.Unix(),
		"formatted":  now.Format("2006-01-02 15:04:05 MST"),
		"request_id": requestID,
	}

	return sendJSON(ctx, send, http.StatusOK, result)
}

// StatusApp responds with the status code given in the query string,
// e.g. GET /api/status?code=503. Useful for probing tracing behavior.
func StatusApp(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
	status := http.StatusOK
	for _, part := range strings.Split(scope.RawQuery, "&") {
		if v, ok := strings.CutPrefix(part, "code="); ok {
			code, err := strconv.Atoi(v)
			if err != nil || code < 100 || code > 599 {
				return sendJSON(ctx, send, http.StatusBadRequest, map[string]interface{}{
					"error": fmt.Sprintf("invalid status code: %q", v),
				})
			}
			status = code
		}
	}

	return sendJSON(ctx, send, status, map[string]interface{}{
		"status": status,
		"text":   http.StatusText(status),
	})
}

// SlowApp simulates a slow operation for testing timeouts
func SlowApp(delay time.Duration) types.Handler {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		return sendJSON(ctx, send, http.StatusOK, map[string]interface{}{
			"result": "slow operation completed",
		})
	}
}

// WebSocketEchoSession returns a session that echoes text and binary
// frames until the peer disconnects. Built as a factory so transports
// can inspect the scope before the session runs.
func WebSocketEchoSession(scope *types.Scope) types.SessionFunc {
	return func(ctx context.Context, receive types.ReceiveFunc, send types.SendFunc) error {
		if err := send(ctx, types.Message{Type: types.MessageWebSocketAccept}); err != nil {
			return err
		}

		for {
			msg, err := receive(ctx)
			if err != nil {
				return err
			}

			switch msg.Type {
			case types.MessageWebSocketReceive:
				reply := types.Message{Type: types.MessageWebSocketSend}
				if msg.Text != "" {
					reply.Text = "echo: " + msg.Text
				} else {
					reply.Bytes = msg.Bytes
				}
				if err := send(ctx, reply); err != nil {
					return err
				}
			case types.MessageWebSocketDisconnect:
				return nil
			case types.MessageWebSocketClose:
				return nil
			}
		}
	}
}

// WebSocketEchoApp is WebSocketEchoSession adapted to the single-call shape
func WebSocketEchoApp() types.Handler {
	return types.SingleHandler(WebSocketEchoSession)
}
