// Package main runs a demo WebSocket client that prints batch.created events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so the events of the run below are not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/batches/stream"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("no ack: %v", err)
	}

	// Seed a few orders and trigger a run
	body := []byte(`{"orders":[
		{"order_id":"demo-1","pincode":"560001","lat":12.90,"lng":77.60,"weight":1},
		{"order_id":"demo-2","pincode":"560001","lat":12.91,"lng":77.61,"weight":2},
		{"order_id":"demo-3","pincode":"600001","lat":13.05,"lng":80.27,"weight":1}]}`)
	post(base+"/v1/orders", body)
	post(base+"/batches/generate?n_clusters=2", nil)

	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			log.Printf("done: %v", err)
			return
		}
		log.Printf("%s %s", msg.Type, string(msg.Payload))
	}
}

func post(target string, body []byte) {
	resp, err := http.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	log.Printf("POST %s -> %s", target, resp.Status)
}
