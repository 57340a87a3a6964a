package telemetry

// Metric names a historized numeric field.
type Metric string

const (
	MetricAcceleration Metric = "acceleration"
	MetricHeartRate    Metric = "heartRate"
	MetricSpO2         Metric = "spo2"
	MetricTemperature  Metric = "temperature"
)

// HistorizedMetrics lists every metric that owns a history buffer.
// GPS fields and fall detection are snapshot-only.
var HistorizedMetrics = []Metric{
	MetricAcceleration,
	MetricHeartRate,
	MetricSpO2,
	MetricTemperature,
}

// Snapshot is the latest known value of every tracked field.
// Nil pointers mean "not reported" and encode as JSON null.
// A Snapshot is never mutated after the store publishes it.
type Snapshot struct {
	Acceleration float64  `json:"acceleration"`
	FallDetected bool     `json:"fallDetected"`
	HeartRate    *float64 `json:"heartRate"`
	SpO2         *float64 `json:"spo2"`
	Temperature  *float64 `json:"temperature"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Satellites   *int     `json:"satellites"`
	Timestamp    int64    `json:"timestamp" doc:"Server ingestion time, unix milliseconds"`
}

// History maps metric name to its retained points, oldest-first.
type History map[string][]Point

// Len returns the number of points retained for m.
func (h History) Len(m Metric) int {
	return len(h[string(m)])
}
