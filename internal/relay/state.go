package relay

import (
	"errors"
	"fmt"
	"time"
)

// ErrGenerationFailed marks a failure before any fragment reached the client
var ErrGenerationFailed = errors.New("generation failed")

// ValidationError reports a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MidStreamError reports an upstream failure after fragments were delivered.
// The partial answer cannot be completed or retried.
type MidStreamError struct {
	Fragments int
	Bytes     int
	Err       error
}

func (e *MidStreamError) Error() string {
	return fmt.Sprintf("upstream failed after %d fragments (%d bytes): %v", e.Fragments, e.Bytes, e.Err)
}

func (e *MidStreamError) Unwrap() error { return e.Err }

// State is a step of one generation
type State int

const (
	StateIdle State = iota
	StatePromptBuilt
	StateKeyAcquired
	StateUpstreamConnecting
	StateStreaming
	StateCompleted
	StateFailedEarly
	StateFailedMidStream
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePromptBuilt:
		return "prompt_built"
	case StateKeyAcquired:
		return "key_acquired"
	case StateUpstreamConnecting:
		return "upstream_connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailedEarly:
		return "failed_early"
	case StateFailedMidStream:
		return "failed_mid_stream"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Stage names where a generation stopped
type Stage string

const (
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageStream   Stage = "stream"
	StageDeliver  Stage = "deliver"
)

// Mode distinguishes streamed generations from whole-answer solves
type Mode string

const (
	ModeStream Mode = "stream"
	ModeSolve  Mode = "solve"
)

// Outcome summarises one generation
type Outcome struct {
	Mode            Mode
	Source          string
	State           State
	Stage           Stage
	Seed            *int
	QuestionLength  int
	CredentialIndex int
	Attempts        int
	Fragments       int
	Bytes           int
	Duration        time.Duration
	Err             error

	fingerprint string
}

func (o *Outcome) fail(state State, stage Stage, err error) {
	o.State = state
	o.Stage = stage
	o.Err = err
}

// IsValidation reports whether the outcome failed request validation
func (o Outcome) IsValidation() bool {
	var ve *ValidationError
	return errors.As(o.Err, &ve)
}
