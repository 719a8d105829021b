// Package model defines the entities persisted and exchanged across SolDocs:
// program metadata, queue items, cached IDLs, generated documentation, and
// the agent's derived runtime state.
package model

import "time"

// ProgramStatus is the lifecycle status of a ProgramMetadata record.
type ProgramStatus string

const (
	StatusPending    ProgramStatus = "pending"
	StatusProcessing ProgramStatus = "processing"
	StatusDocumented ProgramStatus = "documented"
	StatusFailed     ProgramStatus = "failed"
)

// QueueStatus is the lifecycle status of a QueueItem.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// MaxAttempts is the retry budget before a QueueItem fails permanently.
const MaxAttempts = 10

// ProgramMetadata is the durable summary record for a documented or
// attempted program. Invariant: when Status == StatusDocumented, IDLHash is
// non-empty and matches the IDLCache and Documentation hash for ProgramID.
type ProgramMetadata struct {
	ProgramID        string        `json:"programId"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	InstructionCount int           `json:"instructionCount"`
	AccountCount     int           `json:"accountCount"`
	Status           ProgramStatus `json:"status"`
	IDLHash          string        `json:"idlHash"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
}

// QueueItem represents a program awaiting or undergoing documentation.
// Invariant: at most one QueueItem exists per ProgramID (enforced by Store).
type QueueItem struct {
	ProgramID string      `json:"programId"`
	Status    QueueStatus `json:"status"`
	AddedAt   time.Time   `json:"addedAt"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
}

// IDLCache holds a fetched or uploaded IDL document and its content hash.
// Invariant: Hash is a pure function of IDL (see store.HashIDL).
type IDLCache struct {
	ProgramID string         `json:"programId"`
	IDL       map[string]any `json:"idl"`
	Hash      string         `json:"hash"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// Documentation is the four-section, LLM-generated write-up for a program.
// Invariant: IDLHash matches the IDLCache entry that produced it.
type Documentation struct {
	ProgramID    string    `json:"programId"`
	Name         string    `json:"name"`
	Overview     string    `json:"overview"`
	Instructions string    `json:"instructions"`
	Accounts     string    `json:"accounts"`
	Security     string    `json:"security"`
	FullMarkdown string    `json:"fullMarkdown"`
	GeneratedAt  time.Time `json:"generatedAt"`
	IDLHash      string    `json:"idlHash"`
}

// AgentError is one entry in the agent's bounded error ring.
type AgentError struct {
	ProgramID string    `json:"programId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRingCap bounds the number of AgentError entries the agent retains.
const ErrorRingCap = 50

// AgentState is a live, derived snapshot of the agent's runtime, recomputed
// on every read rather than stored.
type AgentState struct {
	Running            bool         `json:"running"`
	ProgramsDocumented int          `json:"programsDocumented"`
	ProgramsFailed     int          `json:"programsFailed"`
	TotalProcessed     int          `json:"totalProcessed"`
	QueueLength        int          `json:"queueLength"`
	StartedAt          time.Time    `json:"startedAt"`
	LastRunAt          time.Time    `json:"lastRunAt"`
	Errors             []AgentError `json:"errors"`
}
