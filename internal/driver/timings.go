package driver

import (
	"encoding/json"
	"fmt"

	"lowerc/internal/diag"
	"lowerc/internal/observ"
	"lowerc/internal/source"
)

type timingPayload struct {
	Kind    string               `json:"kind"`
	Path    string               `json:"path,omitempty"`
	TotalMS float64              `json:"total_ms"`
	Phases  []observ.PhaseReport `json:"phases"`
}

// TimingDiagnostic packs a timer report into an ObsTimings diagnostic whose
// only note is the JSON payload.
func TimingDiagnostic(kind, path string, report observ.Report) (diag.Diagnostic, bool) {
	payload := timingPayload{Kind: kind, Path: path, TotalMS: report.TotalMS, Phases: report.Phases}
	if payload.Kind == "" {
		payload.Kind = "build"
	}
	msg := fmt.Sprintf("timings (%s): total %.2f ms", payload.Kind, payload.TotalMS)
	if payload.Path != "" {
		msg = fmt.Sprintf("%s, %s", msg, payload.Path)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return diag.Diagnostic{}, false
	}
	return diag.New(diag.SevInfo, diag.ObsTimings, source.Pos{}, msg).WithNote(source.Pos{}, string(data)), true
}
