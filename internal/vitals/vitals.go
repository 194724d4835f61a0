// Package vitals classifies vital-sign snapshots against clinical
// thresholds and derives directional trends. Pure functions, no I/O:
// the monitoring path has no pipeline state.
package vitals

import (
	"fmt"
	"sort"

	"github.com/aegismed/caseflow/internal/model"
)

// Thresholds holds the clinical limits used for classification.
type Thresholds struct {
	HeartRateLow      int     // below: bradycardia
	HeartRateHigh     int     // above: tachycardia
	HeartRateCritical int     // above: critical tachycardia
	SystolicHigh      int     // at or above: hypertension
	SystolicCritical  int     // above: hypertensive crisis
	SystolicLow       int     // below: hypotension
	DiastolicHigh     int     // at or above: hypertension
	DiastolicCritical int     // above: hypertensive crisis
	SpO2Low           int     // below: hypoxemia
	SpO2Critical      int     // below: critical hypoxemia
	TempHighC         float64 // above: fever
	TempCriticalC     float64 // above: high fever
	TempLowC          float64 // below: hypothermia
	RespRateLow       int     // below: bradypnea
	RespRateHigh      int     // above: tachypnea
}

// DefaultThresholds returns the standard resting-adult limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeartRateLow:      60,
		HeartRateHigh:     100,
		HeartRateCritical: 120,
		SystolicHigh:      140,
		SystolicCritical:  180,
		SystolicLow:       90,
		DiastolicHigh:     90,
		DiastolicCritical: 120,
		SpO2Low:           92,
		SpO2Critical:      88,
		TempHighC:         38.0,
		TempCriticalC:     39.5,
		TempLowC:          35.0,
		RespRateLow:       12,
		RespRateHigh:      20,
	}
}

// vitalOrder fixes the tie-break ordering of alerts within one severity:
// heart rate, oxygen saturation, blood pressure, temperature, then
// respiratory rate.
var vitalOrder = map[string]int{
	"tachycardia":         0,
	"bradycardia":         0,
	"hypoxemia":           1,
	"hypertensive_crisis": 2,
	"hypertension":        2,
	"hypotension":         2,
	"high_fever":          3,
	"fever":               3,
	"hypothermia":         3,
	"tachypnea":           4,
	"bradypnea":           4,
}

// Classify evaluates one snapshot against the thresholds and returns
// alerts ordered by severity descending, ties broken by vitalOrder.
// A zero-valued vital is treated as not measured.
func Classify(snap model.VitalsSnapshot, t Thresholds) []model.Alert {
	var alerts []model.Alert
	add := func(code string, sev model.FlagSeverity, msg string, value float64, threshold string) {
		alerts = append(alerts, model.Alert{Code: code, Severity: sev, Message: msg, Value: value, Threshold: threshold})
	}

	if hr := snap.HeartRate; hr > 0 {
		switch {
		case hr > t.HeartRateCritical:
			add("tachycardia", model.SeverityCritical,
				fmt.Sprintf("critical tachycardia (HR %d bpm)", hr), float64(hr), fmt.Sprintf(">%d", t.HeartRateCritical))
		case hr > t.HeartRateHigh:
			add("tachycardia", model.SeverityMedium,
				fmt.Sprintf("tachycardia (HR %d bpm)", hr), float64(hr), fmt.Sprintf(">%d", t.HeartRateHigh))
		case hr < t.HeartRateLow:
			add("bradycardia", model.SeverityMedium,
				fmt.Sprintf("bradycardia (HR %d bpm)", hr), float64(hr), fmt.Sprintf("<%d", t.HeartRateLow))
		}
	}

	if spo2 := snap.SpO2; spo2 > 0 {
		switch {
		case spo2 < t.SpO2Critical:
			add("hypoxemia", model.SeverityCritical,
				fmt.Sprintf("critical hypoxemia (SpO2 %d%%)", spo2), float64(spo2), fmt.Sprintf("<%d", t.SpO2Critical))
		case spo2 < t.SpO2Low:
			add("hypoxemia", model.SeverityHigh,
				fmt.Sprintf("hypoxemia (SpO2 %d%%)", spo2), float64(spo2), fmt.Sprintf("<%d", t.SpO2Low))
		}
	}

	sys, dia := snap.SystolicBP, snap.DiastolicBP
	if sys > 0 || dia > 0 {
		switch {
		case sys > t.SystolicCritical || dia > t.DiastolicCritical:
			add("hypertensive_crisis", model.SeverityCritical,
				fmt.Sprintf("hypertensive crisis (BP %d/%d mmHg)", sys, dia), float64(sys),
				fmt.Sprintf(">%d/>%d", t.SystolicCritical, t.DiastolicCritical))
		case sys >= t.SystolicHigh || dia >= t.DiastolicHigh:
			add("hypertension", model.SeverityMedium,
				fmt.Sprintf("hypertension (BP %d/%d mmHg)", sys, dia), float64(sys),
				fmt.Sprintf(">=%d/>=%d", t.SystolicHigh, t.DiastolicHigh))
		case sys > 0 && sys < t.SystolicLow:
			add("hypotension", model.SeverityHigh,
				fmt.Sprintf("hypotension (systolic %d mmHg)", sys), float64(sys), fmt.Sprintf("<%d", t.SystolicLow))
		}
	}

	if temp := snap.TemperatureC; temp > 0 {
		switch {
		case temp > t.TempCriticalC:
			add("high_fever", model.SeverityHigh,
				fmt.Sprintf("high fever (%.1f C)", temp), temp, fmt.Sprintf(">%.1f", t.TempCriticalC))
		case temp > t.TempHighC:
			add("fever", model.SeverityMedium,
				fmt.Sprintf("fever (%.1f C)", temp), temp, fmt.Sprintf(">%.1f", t.TempHighC))
		case temp < t.TempLowC:
			add("hypothermia", model.SeverityCritical,
				fmt.Sprintf("hypothermia (%.1f C)", temp), temp, fmt.Sprintf("<%.1f", t.TempLowC))
		}
	}

	if rr := snap.RespiratoryRate; rr > 0 {
		switch {
		case rr > t.RespRateHigh:
			add("tachypnea", model.SeverityMedium,
				fmt.Sprintf("tachypnea (RR %d/min)", rr), float64(rr), fmt.Sprintf(">%d", t.RespRateHigh))
		case rr < t.RespRateLow:
			add("bradypnea", model.SeverityMedium,
				fmt.Sprintf("bradypnea (RR %d/min)", rr), float64(rr), fmt.Sprintf("<%d", t.RespRateLow))
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
		}
		return vitalOrder[alerts[i].Code] < vitalOrder[alerts[j].Code]
	})
	return alerts
}

// trendEpsilon absorbs measurement noise in directional comparison.
const trendEpsilon = 0.5

// Trends compares a snapshot against the immediately preceding one.
// No statistical smoothing; a simple directional signal per vital.
func Trends(prev, cur model.VitalsSnapshot) []model.VitalTrend {
	pairs := []struct {
		name string
		prev float64
		cur  float64
	}{
		{"heart_rate", float64(prev.HeartRate), float64(cur.HeartRate)},
		{"systolic_bp", float64(prev.SystolicBP), float64(cur.SystolicBP)},
		{"diastolic_bp", float64(prev.DiastolicBP), float64(cur.DiastolicBP)},
		{"temperature_c", prev.TemperatureC, cur.TemperatureC},
		{"respiratory_rate", float64(prev.RespiratoryRate), float64(cur.RespiratoryRate)},
		{"oxygen_saturation", float64(prev.SpO2), float64(cur.SpO2)},
	}

	var trends []model.VitalTrend
	for _, p := range pairs {
		if p.prev <= 0 || p.cur <= 0 {
			continue // not measured in one of the snapshots
		}
		delta := p.cur - p.prev
		dir := model.TrendStable
		if delta > trendEpsilon {
			dir = model.TrendRising
		} else if delta < -trendEpsilon {
			dir = model.TrendFalling
		}
		trends = append(trends, model.VitalTrend{Vital: p.name, Direction: dir, Delta: delta})
	}
	return trends
}

// Report classifies a snapshot and, when prior readings exist, attaches
// the trend against the most recent one. priors must be time-ordered.
func Report(snap model.VitalsSnapshot, priors []model.VitalsSnapshot, t Thresholds) model.VitalsReport {
	report := model.VitalsReport{
		PatientID: snap.PatientID,
		Timestamp: snap.Timestamp,
		Alerts:    Classify(snap, t),
	}
	if len(priors) > 0 {
		report.Trends = Trends(priors[len(priors)-1], snap)
	}
	for _, a := range report.Alerts {
		if a.Severity == model.SeverityCritical {
			report.Critical = true
			break
		}
	}
	return report
}
