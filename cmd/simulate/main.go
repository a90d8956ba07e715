// Command simulate replays a trigger scenario onto the source topic so the
// bridge can be exercised without a device.
//
// Usage:
//
//	go run ./cmd/simulate \
//	  -brokers localhost:9092 \
//	  -topic location-triggers \
//	  -scenario cmd/simulate/testdata/stadium.json \
//	  -speed 60
//
// A scenario is a JSON array of steps. Each step waits "after" (a Go
// duration, divided by -speed) and then publishes "event":
//
//	[{"after": "0s", "event": {"action": "enter", "kind": "fence", ...}}]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

type step struct {
	After time.Duration
	Event json.RawMessage
}

func (s *step) UnmarshalJSON(data []byte) error {
	var raw struct {
		After string          `json:"after"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.After != "" {
		d, err := time.ParseDuration(raw.After)
		if err != nil {
			return fmt.Errorf("after: %w", err)
		}
		s.After = d
	}
	s.Event = raw.Event
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "location-triggers", "source topic to publish to")
	device := flag.String("device", "device-1", "message key identifying the device")
	scenarioPath := flag.String("scenario", "", "path to the scenario JSON file")
	speed := flag.Float64("speed", 1, "time compression factor for step delays")
	dryRun := flag.Bool("dry-run", false, "validate and print the scenario without publishing")
	flag.Parse()

	if *scenarioPath == "" || *speed <= 0 {
		flag.Usage()
		return fmt.Errorf("missing or invalid flags: -scenario, -speed")
	}

	data, err := os.ReadFile(*scenarioPath)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	steps, err := parseScenario(data)
	if err != nil {
		return err
	}
	log.Printf("scenario: %d steps", len(steps))

	if *dryRun {
		for i, s := range steps {
			log.Printf("step %d after %s: %s", i, s.After, s.Event)
		}
		return nil
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(strings.Split(*brokers, ",")...),
		Topic:        *topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for i, s := range steps {
		if !wait(ctx, time.Duration(float64(s.After) / *speed)) {
			return ctx.Err()
		}
		msg := kafkago.Message{
			Key:   []byte(*device),
			Value: s.Event,
			Headers: []kafkago.Header{
				{Key: "source", Value: []byte("simulate")},
			},
		}
		if err := w.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("publish step %d: %w", i, err)
		}
		log.Printf("published step %d", i)
	}
	return nil
}

// parseScenario decodes the steps and checks that every event would be
// accepted by the bridge.
func parseScenario(data []byte) ([]step, error) {
	var steps []step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	for i, s := range steps {
		if _, err := domain.DecodeTriggerEvent(domain.RawEvent{Value: s.Event}); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return steps, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
