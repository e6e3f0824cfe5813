// The bridge server is the public relay: agents register over a websocket
// and client requests carrying an X-Agent-ID header are tunnelled to the
// matching agent's local rules API.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type agent struct {
	ID string
	WS *websocket.Conn
	mu sync.Mutex
}

var (
	agents   = map[string]*agent{}
	agentsMu sync.Mutex
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
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

var pending = struct {
	m  map[string]chan responseMsg
	mu sync.Mutex
}{m: map[string]chan responseMsg{}}

func main() {
	addr := os.Getenv("BRIDGE_ADDR")
	if addr == "" {
		addr = ":5070"
	}

	r := gin.Default()
	r.GET("/agent", handleAgentWS)
	r.NoRoute(handleClientRequest)

	fmt.Println("bridge server listening on", addr)
	if err := r.Run(addr); err != nil {
		fmt.Fprintln(os.Stderr, "bridge server:", err)
		os.Exit(1)
	}
}

func handleAgentWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	var agentID string
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if agentID != "" {
				agentsMu.Lock()
				delete(agents, agentID)
				agentsMu.Unlock()
			}
			return
		}

		var data map[string]any
		if err := json.Unmarshal(msg, &data); err != nil {
			continue
		}

		switch data["type"] {
		case "register":
			id, ok := data["id"].(string)
			if !ok {
				continue
			}
			agentID = id
			agentsMu.Lock()
			agents[agentID] = &agent{ID: agentID, WS: ws}
			agentsMu.Unlock()
			fmt.Println("agent registered:", agentID)

		case "response":
			reqID, ok := data["reqId"].(string)
			if !ok {
				continue
			}
			status, _ := data["status"].(float64)

			pending.mu.Lock()
			if ch, ok := pending.m[reqID]; ok {
				ch <- responseMsg{Type: "response", ReqID: reqID, Status: int(status), Body: data["body"]}
				delete(pending.m, reqID)
			}
			pending.mu.Unlock()
		}
	}
}

func handleClientRequest(c *gin.Context) {
	agentID := c.GetHeader("X-Agent-ID")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-Agent-ID"})
		return
	}

	agentsMu.Lock()
	a, ok := agents[agentID]
	agentsMu.Unlock()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Agent offline"})
		return
	}

	var body any
	_ = c.ShouldBindJSON(&body)

	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	reqID := fmt.Sprintf("%d", time.Now().UnixNano())
	msg := requestMsg{
		Type:    "request",
		ReqID:   reqID,
		Method:  c.Request.Method,
		Path:    c.Request.URL.Path,
		Headers: headers,
		Body:    body,
	}
	data, _ := json.Marshal(msg)

	respChan := make(chan responseMsg, 1)
	pending.mu.Lock()
	pending.m[reqID] = respChan
	pending.mu.Unlock()

	a.mu.Lock()
	err := a.WS.WriteMessage(websocket.TextMessage, data)
	a.mu.Unlock()
	if err != nil {
		pending.mu.Lock()
		delete(pending.m, reqID)
		pending.mu.Unlock()
		c.JSON(http.StatusBadGateway, gin.H{"error": "Agent write failed"})
		return
	}

	select {
	case resp := <-respChan:
		c.JSON(resp.Status, resp.Body)
	case <-time.After(10 * time.Second):
		pending.mu.Lock()
		delete(pending.m, reqID)
		pending.mu.Unlock()
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timeout"})
	}
}
