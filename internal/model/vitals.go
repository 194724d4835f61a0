package model

import "time"

// VitalsSnapshot is one immutable vital-signs reading. Snapshots are
// appended to a patient's time series and never mutated.
type VitalsSnapshot struct {
	PatientID       string    `json:"patient_id"`
	Timestamp       time.Time `json:"timestamp"`
	HeartRate       int       `json:"heart_rate"`
	SystolicBP      int       `json:"systolic_bp"`
	DiastolicBP     int       `json:"diastolic_bp"`
	TemperatureC    float64   `json:"temperature_c"`
	RespiratoryRate int       `json:"respiratory_rate"`
	SpO2            int       `json:"oxygen_saturation"`
}

// TrendDirection is a directional comparison against the previous snapshot.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// VitalTrend is the change of one vital relative to the immediately
// preceding snapshot. No smoothing; a simple directional signal.
type VitalTrend struct {
	Vital     string         `json:"vital"`
	Direction TrendDirection `json:"direction"`
	Delta     float64        `json:"delta"`
}

// Alert is one threshold violation found in a snapshot, ordered in
// reports by severity descending.
type Alert struct {
	Code      string       `json:"code"`
	Severity  FlagSeverity `json:"severity"`
	Message   string       `json:"message"`
	Value     float64      `json:"value"`
	Threshold string       `json:"threshold"`
}

// VitalsReport is the outcome of one monitoring call.
type VitalsReport struct {
	PatientID string       `json:"patient_id"`
	Timestamp time.Time    `json:"timestamp"`
	Alerts    []Alert      `json:"alerts"`
	Trends    []VitalTrend `json:"trends,omitempty"`
	Critical  bool         `json:"requires_immediate_attention"`
}
