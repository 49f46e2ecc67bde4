package charging

import (
	"strconv"
	"strings"
	"time"
)

// Unit is the billing basis for a queue.
type Unit string

const (
	NodeHour Unit = "node-hour"
	CoreHour Unit = "core-hour"
)

// Rate converts a job's footprint on one queue into allocation units (SUs).
type Rate struct {
	Unit    Unit    `yaml:"unit"`
	PerHour float64 `yaml:"per_hour"`
}

// DefaultRates returns the built-in rate table, keyed by queue name.
// Sites override these per queue in their config.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"compute": {Unit: NodeHour, PerHour: 1.0},
		"large":   {Unit: NodeHour, PerHour: 1.0},
		"debug":   {Unit: NodeHour, PerHour: 1.0},
		// Shared queues charge per core so partial nodes bill fairly
		"shared": {Unit: CoreHour, PerHour: 1.0 / 128},
		// GPU queues carry a premium over standard compute
		"gpu":        {Unit: NodeHour, PerHour: 4.0},
		"gpu-shared": {Unit: CoreHour, PerHour: 1.0 / 16},
	}
}

// RateFor returns the rate for a queue, trying an exact match, then a
// normalized match, then falling back to one SU per node-hour.
func RateFor(queue string, rates map[string]Rate) Rate {
	if rates == nil {
		rates = DefaultRates()
	}

	if r, ok := rates[queue]; ok {
		return r
	}

	normalized := normalizeQueueName(queue)
	for name, r := range rates {
		if normalizeQueueName(name) == normalized {
			return r
		}
	}

	return Rate{Unit: NodeHour, PerHour: 1.0}
}

// normalizeQueueName normalizes queue names for matching
func normalizeQueueName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// Charge calculates the allocation units for a job's footprint.
func Charge(rate Rate, nodes, cores int, elapsed time.Duration) float64 {
	hours := elapsed.Hours()
	if hours < 0 {
		hours = 0
	}

	switch rate.Unit {
	case CoreHour:
		return float64(cores) * hours * rate.PerHour
	default:
		return float64(nodes) * hours * rate.PerHour
	}
}

// FormatCharge renders a charge as the string-encoded decimal the AMIE
// wire format carries.
func FormatCharge(charge float64) string {
	return strconv.FormatFloat(charge, 'f', 2, 64)
}
