package model

// StepResult counts per-item outcomes of one cycle step.
type StepResult struct {
	Step      string `json:"step"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped,omitempty"`
	Err       string `json:"error,omitempty"`
}
