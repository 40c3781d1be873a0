package bridge

import "testing"

func TestDecodeReading(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    SensorReading
		wantErr bool
	}{
		{
			name:    "complete",
			payload: `{"temperature": 22, "humidity": 45, "device": "esp32-1"}`,
			want:    SensorReading{Temperature: 22, Humidity: 45, Device: "esp32-1"},
		},
		{
			name:    "fractional",
			payload: `{"temperature": 21.75, "humidity": 60.5, "device": "esp32-2"}`,
			want:    SensorReading{Temperature: 21.75, Humidity: 60.5, Device: "esp32-2"},
		},
		{
			name:    "empty object takes defaults",
			payload: `{}`,
			want:    SensorReading{Temperature: 25, Humidity: 50, Device: "Unknown"},
		},
		{
			name:    "nulls take defaults",
			payload: `{"temperature": null, "humidity": null, "device": null}`,
			want:    SensorReading{Temperature: 25, Humidity: 50, Device: "Unknown"},
		},
		{
			name:    "zero is a real reading",
			payload: `{"temperature": 0, "humidity": 0, "device": ""}`,
			want:    SensorReading{Temperature: 0, Humidity: 0, Device: "Unknown"},
		},
		{
			name:    "extra fields ignored",
			payload: ` {"temperature": 19, "rssi": -61} `,
			want:    SensorReading{Temperature: 19, Humidity: 50, Device: "Unknown"},
		},
		{name: "not json", payload: "hello", wantErr: true},
		{name: "array", payload: "[1]", wantErr: true},
		{name: "wrong type", payload: `{"humidity": "wet"}`, wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReading([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeReading() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("DecodeReading() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSensorReading_LogLine(t *testing.T) {
	tests := []struct {
		r    SensorReading
		want string
	}{
		{SensorReading{Temperature: 22, Humidity: 45}, "Temp: 22°C | Humidity: 45%"},
		{SensorReading{Temperature: 22.5, Humidity: 47.25}, "Temp: 22.5°C | Humidity: 47.25%"},
	}
	for _, tt := range tests {
		if got := tt.r.logLine(); got != tt.want {
			t.Errorf("logLine() = %q, want %q", got, tt.want)
		}
	}
}
