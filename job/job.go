// Package job defines the unit of work handed from producers to workers.
package job

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultLevel is the level used when neither the caller nor the queue
// names one.
const DefaultLevel = "default"

// Job is an opaque payload tagged with the priority level it was pushed to.
// A Job is treated as immutable once pushed; the store owns it from then on.
type Job struct {
	ID         string    `json:"id"`
	Level      string    `json:"level"`
	Payload    any       `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// New creates a job with a fresh ID.
func New(payload any, level string) *Job {
	if level == "" {
		level = DefaultLevel
	}
	return &Job{
		ID:         uuid.NewString(),
		Level:      level,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}

// WithLevel returns a copy of j tagged with level.
func (j *Job) WithLevel(level string) *Job {
	c := *j
	c.Level = level
	return &c
}

// String implements fmt.Stringer for log lines.
func (j *Job) String() string {
	if j == nil {
		return "<nil>"
	}
	return j.Level + "/" + j.ID
}

// Marshal encodes a job for network stores.
func Marshal(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

// Unmarshal decodes a job written by Marshal. When useNumber is set,
// numbers in the payload decode as json.Number instead of float64.
func Unmarshal(data []byte, useNumber bool) (*Job, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if useNumber {
		decoder.UseNumber()
	}

	var j Job
	if err := decoder.Decode(&j); err != nil {
		return nil, err
	}
	return &j, nil
}
