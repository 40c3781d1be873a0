// Sensorsim stands in for the AuraLink display during development.
//
// It publishes synthetic temperature and humidity readings to the sensor
// topic at a fixed interval and logs every response the bridge sends
// back on the backend topic.
//
// Usage:
//
//	sensorsim [-broker url] [-device id] [-interval 30s] [-count n]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultBroker       = "mqtt://broker.hivemq.com:1883"
	defaultSensorTopic  = "auralink/sensor/data"
	defaultBackendTopic = "auralink/backend/message"
	connectTimeout      = 15 * time.Second
)

// options controls one simulator run.
type options struct {
	broker       string
	clientID     string
	device       string
	sensorTopic  string
	backendTopic string
	interval     time.Duration
	count        int // 0 publishes until interrupted
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stdout, nil)).With("device", opts.device)

	client := pahomqtt.NewClient(pahomqtt.NewClientOptions().
		AddBroker(brokerURL(opts.broker)).
		SetClientID(opts.clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true))

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: timed out", opts.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", opts.broker, err)
	}
	defer client.Disconnect(250)
	logger.Info("connected", "broker", opts.broker, "client_id", opts.clientID)

	sub := client.Subscribe(opts.backendTopic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		logger.Info("bridge response", "summary", describeResponse(msg.Payload()))
	})
	if sub.Wait() && sub.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", opts.backendTopic, sub.Error())
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for sent := 0; opts.count == 0 || sent < opts.count; sent++ {
		payload, err := json.Marshal(nextReading(rng, opts.device))
		if err != nil {
			return err
		}
		pub := client.Publish(opts.sensorTopic, 0, false, payload)
		pub.Wait()
		if err := pub.Error(); err != nil {
			logger.Warn("publish failed", "topic", opts.sensorTopic, "error", err)
		} else {
			logger.Info("reading published", "topic", opts.sensorTopic, "payload", string(payload))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// parseArgs parses the command line by hand, as the bridge does.
func parseArgs(args []string) (options, error) {
	opts := options{
		broker:       defaultBroker,
		sensorTopic:  defaultSensorTopic,
		backendTopic: defaultBackendTopic,
		interval:     30 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(strings.TrimLeft(args[i], "-"), "=")
		if !strings.HasPrefix(args[i], "-") {
			return options{}, fmt.Errorf("unexpected argument: %s", args[i])
		}
		if !hasValue {
			if i+1 >= len(args) {
				return options{}, fmt.Errorf("flag -%s needs a value", name)
			}
			value = args[i+1]
			i++
		}

		switch name {
		case "broker":
			opts.broker = value
		case "client-id":
			opts.clientID = value
		case "device":
			opts.device = value
		case "sensor-topic":
			opts.sensorTopic = value
		case "backend-topic":
			opts.backendTopic = value
		case "interval":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return options{}, fmt.Errorf("invalid -interval %q", value)
			}
			opts.interval = d
		case "count":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return options{}, fmt.Errorf("invalid -count %q", value)
			}
			opts.count = n
		default:
			return options{}, fmt.Errorf("unknown flag: -%s", name)
		}
	}

	if opts.device == "" {
		opts.device = "sim-" + uuid.NewString()[:8]
	}
	if opts.clientID == "" {
		opts.clientID = "auralink_sim_" + uuid.NewString()[:8]
	}
	return opts, nil
}

// brokerURL maps the bridge's mqtt:// and mqtts:// schemes onto the
// tcp:// and ssl:// names paho.mqtt.golang has always accepted.
func brokerURL(s string) string {
	switch {
	case strings.HasPrefix(s, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(s, "mqtt://")
	case strings.HasPrefix(s, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(s, "mqtts://")
	}
	return s
}

// reading mirrors the payload the display publishes.
type reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Device      string  `json:"device"`
}

// nextReading returns an indoor-plausible reading rounded to one decimal.
func nextReading(rng *rand.Rand, device string) reading {
	return reading{
		Temperature: round1(14 + rng.Float64()*18), // 14-32 °C
		Humidity:    round1(25 + rng.Float64()*55), // 25-80 %
		Device:      device,
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// describeResponse renders a bridge response for the log, or the raw
// payload if it does not decode.
func describeResponse(payload []byte) string {
	var resp struct {
		Quote        string `json:"quote"`
		EmailSummary string `json:"email_summary"`
		Urgency      int    `json:"urgency"`
		Timestamp    string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return string(payload)
	}
	return fmt.Sprintf("[%s] %q | %s (urgency %d)", resp.Timestamp, resp.Quote, resp.EmailSummary, resp.Urgency)
}
