// Package service hosts runtime instances as subprocesses. Each service is one
// runtime context: it owns a surface dispatcher and drives a console surface
// with the process output.
package service

import "time"

// State represents the lifecycle state of a service.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Service is a snapshot of one hosted runtime.
type Service struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	WorkDir     string    `json:"workDir"`
	Surface     string    `json:"surface"`
	State       State     `json:"state"`
	ExitCode    int       `json:"exitCode"`
	Columns     int       `json:"columns"`
	Rows        int       `json:"rows"`
	OutputBytes int64     `json:"outputBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stream distinguishes the origin of an output line.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamExit   Stream = "exit"
)

// OutputLine is one line of service output as kept in its history.
type OutputLine struct {
	Stream    Stream    `json:"stream"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
