package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/auralink/auralink-bridge/internal/textgen"
)

// Defaults applied to fields missing from a sensor payload.
const (
	DefaultTemperature = 25.0
	DefaultHumidity    = 50.0
	DefaultDevice      = "Unknown"
)

// TimestampLayout is the response timestamp format the display expects.
const TimestampLayout = "2006-01-02 15:04:05"

// SensorReading is one inbound measurement from the display device.
type SensorReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Device      string  `json:"device"`
}

// wireReading distinguishes absent fields from zero values.
type wireReading struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Device      *string  `json:"device"`
}

var errNotObject = errors.New("payload is not a JSON object")

// DecodeReading parses a sensor payload. The payload must be a JSON
// object; missing or null fields take their defaults, while fields of
// the wrong type are an error.
func DecodeReading(payload []byte) (SensorReading, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return SensorReading{}, errNotObject
	}

	var w wireReading
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return SensorReading{}, fmt.Errorf("decode sensor reading: %w", err)
	}

	r := SensorReading{
		Temperature: DefaultTemperature,
		Humidity:    DefaultHumidity,
		Device:      DefaultDevice,
	}
	if w.Temperature != nil {
		r.Temperature = *w.Temperature
	}
	if w.Humidity != nil {
		r.Humidity = *w.Humidity
	}
	if w.Device != nil && *w.Device != "" {
		r.Device = *w.Device
	}
	return r, nil
}

// logLine renders the sensor log entry body.
func (r SensorReading) logLine() string {
	return fmt.Sprintf("Temp: %s°C | Humidity: %s%%", formatNumber(r.Temperature), formatNumber(r.Humidity))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Response is the payload published to the display.
type Response struct {
	Quote        string          `json:"quote"`
	EmailSummary string          `json:"email_summary"`
	Urgency      textgen.Urgency `json:"urgency"`
	Timestamp    string          `json:"timestamp"`
}
