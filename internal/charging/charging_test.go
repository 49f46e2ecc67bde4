package charging

import (
	"testing"
	"time"
)

func TestChargeUnits(t *testing.T) {
	tests := []struct {
		name    string
		rate    Rate
		nodes   int
		cores   int
		elapsed time.Duration
		want    float64
	}{
		{"node hours", Rate{Unit: NodeHour, PerHour: 1.0}, 4, 128, 2 * time.Hour, 8.0},
		{"core hours", Rate{Unit: CoreHour, PerHour: 1.0 / 128}, 1, 64, 2 * time.Hour, 1.0},
		{"gpu premium", Rate{Unit: NodeHour, PerHour: 4.0}, 2, 80, 30 * time.Minute, 4.0},
		{"zero elapsed", Rate{Unit: NodeHour, PerHour: 1.0}, 4, 128, 0, 0},
		{"negative elapsed clamps", Rate{Unit: NodeHour, PerHour: 1.0}, 4, 128, -time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Charge(tt.rate, tt.nodes, tt.cores, tt.elapsed)
			if got != tt.want {
				t.Errorf("Charge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateFor(t *testing.T) {
	rates := map[string]Rate{
		"gpu-shared": {Unit: CoreHour, PerHour: 0.25},
	}

	tests := []struct {
		name  string
		queue string
		rates map[string]Rate
		want  Rate
	}{
		{"exact match", "gpu-shared", rates, Rate{Unit: CoreHour, PerHour: 0.25}},
		{"normalized match", "GPU_Shared", rates, Rate{Unit: CoreHour, PerHour: 0.25}},
		{"unknown queue falls back", "mystery", rates, Rate{Unit: NodeHour, PerHour: 1.0}},
		{"nil table uses defaults", "gpu", nil, Rate{Unit: NodeHour, PerHour: 4.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RateFor(tt.queue, tt.rates)
			if got != tt.want {
				t.Errorf("RateFor(%q) = %+v, want %+v", tt.queue, got, tt.want)
			}
		})
	}
}

func TestFormatCharge(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{8, "8.00"},
		{0.5, "0.50"},
		{1234.567, "1234.57"},
		{0, "0.00"},
	}

	for _, tt := range tests {
		if got := FormatCharge(tt.in); got != tt.want {
			t.Errorf("FormatCharge(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
