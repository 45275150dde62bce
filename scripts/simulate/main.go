// Smoke client: pushes sample readings through all three transports, then
// queries the read API to confirm they landed. Expects the service plus its
// MQTT/Kafka/redis/postgres environment to be running locally.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

const (
	apiBaseURL = "http://localhost:8080"
	brokerURL  = "tcp://localhost:1883"
	kafkaAddr  = "localhost:9092"
	kafkaTopic = "device-telemetry"
)

func main() {
	// 1. Broker transport: typed single-channel payload
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID("simulate-client")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		panic(token.Error())
	}
	payload := `{"type":"ph","deviceId":"sim-broker","value":6.8}`
	if token := client.Publish("sensors/ph", 0, false, payload); token.Wait() && token.Error() != nil {
		panic(token.Error())
	}
	client.Disconnect(250)
	fmt.Println("Published broker payload:", payload)

	// 2. Stream transport: multi-channel payload keyed by device header
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{kafkaAddr},
		Topic:   kafkaTopic,
	})
	streamPayload := `{"temperature": 21.5, "weight": 900.0}`
	err := writer.WriteMessages(context.Background(), kafka.Message{
		Key:     []byte("sim-stream"),
		Value:   []byte(streamPayload),
		Headers: []kafka.Header{{Key: "device-id", Value: []byte("sim-stream")}},
	})
	writer.Close()
	if err != nil {
		panic(err)
	}
	fmt.Println("Published stream payload:", streamPayload)

	// 3. Socket transport: typed payload with an ack round-trip
	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ingest", nil)
	if err != nil {
		panic(err)
	}
	socketPayload := `{"type":"outside","deviceId":"sim-socket","value":12.5}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(socketPayload)); err != nil {
		panic(err)
	}
	_, ack, err := ws.ReadMessage()
	if err != nil {
		panic(err)
	}
	ws.Close()
	fmt.Println("Socket ack:", string(ack))

	// Give the pipeline a moment before reading back
	time.Sleep(2 * time.Second)

	for _, channel := range []string{"ph", "temperature", "weight", "outside"} {
		resp, err := http.Get(fmt.Sprintf("%s/api/channels/%s/readings?limit=3", apiBaseURL, channel))
		if err != nil {
			panic(err)
		}
		var result struct {
			Readings []struct {
				DeviceID  string  `json:"deviceId"`
				Value     float64 `json:"value"`
				Timestamp string  `json:"timestamp"`
			} `json:"readings"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			panic(err)
		}
		resp.Body.Close()
		fmt.Printf("GET /api/channels/%s/readings: %+v\n", channel, result.Readings)
	}
}
