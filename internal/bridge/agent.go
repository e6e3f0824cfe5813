// Package bridge connects the local API to a public relay server over a
// websocket, so an off-site rules editor can reach it without port
// forwarding.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	PublicWS   string // ws://relay:port/agent
	LocalURL   string // http://localhost:5069
	AgentID    string
	RetryDelay time.Duration
}

type requestMsg struct {
	Type    string            `json:"type"`
	ReqID   string            `json:"reqId"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

type responseMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"reqId"`
	Status int    `json:"status"`
	Body   any    `json:"body"`
}

// Run keeps the agent connected to the relay, reconnecting on failure until
// the context is cancelled.
func Run(ctx context.Context, cfg Config, log *zap.SugaredLogger) {
	log = log.Named("bridge")
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	for {
		serve(ctx, cfg, log)
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.RetryDelay):
			log.Infow("reconnecting to relay", "relay", cfg.PublicWS)
		}
	}
}

func serve(ctx context.Context, cfg Config, log *zap.SugaredLogger) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.PublicWS, nil)
	if err != nil {
		log.Warnw("relay dial failed", "relay", cfg.PublicWS, "err", err)
		return
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]any{"type": "register", "id": cfg.AgentID}); err != nil {
		log.Warnw("agent registration failed", "err", err)
		return
	}
	log.Infow("registered with relay", "agent", cfg.AgentID)

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var req requestMsg
		if err := json.Unmarshal(msg, &req); err != nil || req.Type != "request" {
			continue
		}

		body, status := forwardLocal(cfg.LocalURL, req)
		if err := ws.WriteJSON(responseMsg{Type: "response", ReqID: req.ReqID, Status: status, Body: body}); err != nil {
			return
		}
	}
}

// forwardLocal replays the relayed request against the local API.
func forwardLocal(base string, req requestMsg) (any, int) {
	bodyBytes, _ := json.Marshal(req.Body)

	httpReq, err := http.NewRequest(req.Method, base+req.Path, bytes.NewReader(bodyBytes))
	if err != nil {
		return "bad request", http.StatusBadRequest
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		if k == "Authorization" {
			httpReq.Header.Set(k, v)
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "local request failed", http.StatusBadGateway
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}
	return parsed, resp.StatusCode
}
