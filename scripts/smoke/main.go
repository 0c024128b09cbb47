// Smoke test against a running tabchat server: opens two tabs, joins
// both, sends a message from the first, and waits until the second
// tab's state stream shows it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type state struct {
	Slot     string `json:"slot"`
	TabID    string `json:"tabId"`
	Username string `json:"username"`
	IsJoined bool   `json:"isJoined"`
	Messages []struct {
		ID        string `json:"id"`
		User      string `json:"user"`
		Text      string `json:"text"`
		Timestamp int64  `json:"timestamp"`
	} `json:"messages"`
	Users []string `json:"users"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sender, err := openTab(ctx, *addr)
	if err != nil {
		return fmt.Errorf("open sender tab: %w", err)
	}
	receiver, err := openTab(ctx, *addr)
	if err != nil {
		return fmt.Errorf("open receiver tab: %w", err)
	}
	fmt.Printf("tabs: sender=%s receiver=%s\n", sender.Slot, receiver.Slot)

	wsURL := strings.Replace(*addr, "http", "ws", 1) + "/api/tabs/" + receiver.Slot + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if _, err := post(ctx, *addr+"/api/tabs/"+sender.Slot+"/join", map[string]string{"name": "smoke-a"}); err != nil {
		return fmt.Errorf("join sender: %w", err)
	}
	if _, err := post(ctx, *addr+"/api/tabs/"+receiver.Slot+"/join", map[string]string{"name": "smoke-b"}); err != nil {
		return fmt.Errorf("join receiver: %w", err)
	}
	if _, err := post(ctx, *addr+"/api/tabs/"+sender.Slot+"/messages", map[string]string{"text": *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var snap state
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, m := range snap.Messages {
			if m.Text == *text {
				fmt.Printf("received: user=%s text=%q ts=%d\n", m.User, m.Text, m.Timestamp)
				return nil
			}
		}
	}
}

func openTab(ctx context.Context, addr string) (*state, error) {
	body, err := post(ctx, addr+"/api/tabs", nil)
	if err != nil {
		return nil, err
	}
	var snap state
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &snap, nil
}

func post(ctx context.Context, url string, payload any) ([]byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.String())
	}
	return out.Bytes(), nil
}
