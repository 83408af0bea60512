package model

import (
	"fmt"
	"time"
)

type ChargeSession struct {
	ID                   string    `json:"id,omitempty"`
	Site                 string    `json:"site"`
	NameProject          string    `json:"name_project,omitempty"`
	IDProject            string    `json:"id_project,omitempty"`
	Connector            int       `json:"connector"`
	HasConnector         bool      `json:"-"`
	Start                time.Time `json:"start"`
	End                  time.Time `json:"end,omitempty"`
	Success              bool      `json:"success"`
	Moment               string    `json:"moment,omitempty"`
	ErrorType            string    `json:"error_type,omitempty"`
	EVIErrorCode         *int      `json:"evi_error_code,omitempty"`
	EVIStatusDuringError *int      `json:"evi_status_during_error,omitempty"`
	DownstreamCode       *int      `json:"downstream_code,omitempty"`
	EnergyKWh            *float64  `json:"energy_kwh,omitempty"`
	SOCStart             *float64  `json:"soc_start,omitempty"`
	SOCEnd               *float64  `json:"soc_end,omitempty"`
	MACAddress           string    `json:"mac_address,omitempty"`
	Vehicle              string    `json:"vehicle,omitempty"`
}

// Signature identifies a recurring fault class.
type Signature struct {
	Site           string `json:"site"`
	Connector      int    `json:"connector"`
	ErrorType      string `json:"error_type"`
	Moment         string `json:"moment"`
	EVICode        int    `json:"evi_code"`
	DownstreamCode int    `json:"downstream_code"`
}

func (s Signature) Key() string {
	return fmt.Sprintf("%s|%d|%s|%s|%d|%d", s.Site, s.Connector, s.ErrorType, s.Moment, s.EVICode, s.DownstreamCode)
}

type ErrorEvent struct {
	Signature Signature
	Timestamp time.Time
}

// ErrorEventOf returns the grouping view of a failed session. ok is false for
// successful sessions and for sessions missing any signature field.
func ErrorEventOf(s ChargeSession) (ErrorEvent, bool) {
	if s.Success || s.Start.IsZero() {
		return ErrorEvent{}, false
	}
	if s.Site == "" || !s.HasConnector || s.ErrorType == "" || s.Moment == "" {
		return ErrorEvent{}, false
	}
	if s.EVIErrorCode == nil || s.DownstreamCode == nil {
		return ErrorEvent{}, false
	}
	return ErrorEvent{
		Signature: Signature{
			Site:           s.Site,
			Connector:      s.Connector,
			ErrorType:      s.ErrorType,
			Moment:         s.Moment,
			EVICode:        *s.EVIErrorCode,
			DownstreamCode: *s.DownstreamCode,
		},
		Timestamp: s.Start,
	}, true
}

type AlertCluster struct {
	Signature   Signature   `json:"signature"`
	Detection   time.Time   `json:"detection"`
	Occurrences int         `json:"occurrences"`
	Members     []time.Time `json:"members,omitempty"`
}

type EvolutionPoint struct {
	Scope       string    `json:"scope"`
	Month       time.Time `json:"month"`
	SuccessRate float64   `json:"success_rate"`
	Total       int       `json:"total"`
	Successes   int       `json:"successes"`
}

// MonthLabel renders the month the way the evolution table stores it (MM-YYYY).
func (p EvolutionPoint) MonthLabel() string {
	return p.Month.Format("01-2006")
}

type Verdict string

const (
	VerdictNoData         Verdict = "no_data"
	VerdictFlatNearZero   Verdict = "flat_near_zero"
	VerdictTwoPeakPattern Verdict = "two_peak_pattern"
	VerdictOther          Verdict = "other"
)

// Comment is the operator-facing reading of a verdict.
func (v Verdict) Comment() string {
	switch v {
	case VerdictNoData:
		return "No time-series data"
	case VerdictFlatNearZero:
		return "EVI reading (no active charging)"
	case VerdictTwoPeakPattern:
		return "Inverter regulation"
	default:
		return "Other"
	}
}

type VoltagePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type VoltageClassification struct {
	Session ChargeSession `json:"session"`
	Signal  string        `json:"signal"`
	Project string        `json:"project,omitempty"`
	Samples int           `json:"samples"`
	Peaks   int           `json:"peaks"`
	Valleys int           `json:"valleys"`
	Min     float64       `json:"min_voltage"`
	Max     float64       `json:"max_voltage"`
	Verdict Verdict       `json:"verdict"`
}

type UnidentifiedDeviceRank struct {
	Rank        int     `json:"rank"`
	Prefix      string  `json:"prefix"`
	Sessions    int     `json:"sessions"`
	SuccessRate float64 `json:"success_rate"`
}

type FaultRecord struct {
	ID          int64      `json:"id"`
	Site        string     `json:"site"`
	FieldName   string     `json:"field_name"`
	Equipment   string     `json:"equipment"`
	BitPosition int        `json:"bit_position"`
	Fault       string     `json:"fault"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

type RunSummary struct {
	RunID    string        `json:"run_id"`
	Job      string        `json:"job"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Rows     int           `json:"rows"`
	Inserted int           `json:"inserted,omitempty"`
	Dropped  int           `json:"dropped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// JobResult is what a batch job reports back to the runner. Zero rows with a
// nil error means the job ran and found nothing.
type JobResult struct {
	Rows     int
	Inserted int
	Dropped  int
}
