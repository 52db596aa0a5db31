// Copyright 2016 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mayqtt implements an MQTT client which publishes conversion progress
// to png2bayer/status. Publishing is best-effort: while the broker is
// unreachable, updates are dropped.
package mayqtt

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stapelberg/png2bayer/internal/progress"
	"golang.org/x/net/trace"
)

// StatusTopic is the (retained) topic progress updates are published on.
const StatusTopic = "png2bayer/status"

type PublishRequest struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  interface{}
}

type status struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Note    string `json:"note"`
	Done    bool   `json:"done"`
}

func payload(u progress.Update) ([]byte, error) {
	return json.Marshal(status{
		RunID:   u.RunID,
		Index:   u.Index,
		Stage:   u.StageName(),
		Percent: u.Percent,
		Note:    u.Note,
		Done:    u.Done,
	})
}

// Publisher is a progress.Reporter publishing to an MQTT broker. Updates are
// only delivered while Loop runs.
type Publisher struct {
	broker   string
	clientID string
	publish  chan PublishRequest

	lastStatus string
}

// NewPublisher returns a Publisher for broker, e.g. tcp://dr.lan:1883.
func NewPublisher(broker, clientID string) *Publisher {
	return &Publisher{
		broker:   broker,
		clientID: clientID,
		publish:  make(chan PublishRequest),
	}
}

// Loop connects to the broker and publishes updates until ctx is done.
func (p *Publisher) Loop(ctx context.Context) error {
	tr := trace.New("MQTT", "Loop")
	defer tr.Finish()

	tr.LazyPrintf("Connecting to MQTT broker %s", p.broker)
	opts := mqtt.NewClientOptions().AddBroker(p.broker)
	opts.SetClientID(p.clientID)
	opts.SetConnectRetry(true)
	mqttClient := mqtt.NewClient(opts)
	token := mqttClient.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("MQTT connection failed: %v", err)
		}
	case <-ctx.Done():
		mqttClient.Disconnect(0)
		return nil
	}
	tr.LazyPrintf("Connected to MQTT broker %s", p.broker)

	for {
		select {
		case r := <-p.publish:
			tr.LazyPrintf("publishing on topic %s: %q", r.Topic, r.Payload)
			// discard Token, MQTT publishing is best-effort
			_ = mqttClient.Publish(r.Topic, r.Qos, r.Retained, r.Payload)
		case <-ctx.Done():
			mqttClient.Disconnect(250)
			return nil
		}
	}
}

// Report implements progress.Reporter. It never blocks.
func (p *Publisher) Report(u progress.Update) {
	b, err := payload(u)
	if err != nil {
		return
	}
	// Prevent duplicate messages if status has not changed
	status := string(b)
	if p.lastStatus == status {
		return
	}
	p.lastStatus = status
	select {
	case p.publish <- PublishRequest{
		Topic:    StatusTopic,
		Retained: true,
		Payload:  b,
	}:
	default:
		// drop message if MQTT is not connected
	}
}
