package models

// BuildOutcome is what the build container reported.
type BuildOutcome struct {
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Message  string `json:"message" yaml:"message"`
}

// Succeeded reports whether the container exited with code 0.
func (o BuildOutcome) Succeeded() bool {
	return o.ExitCode == 0
}
