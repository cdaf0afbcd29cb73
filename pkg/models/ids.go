package models

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// NewRollupID returns a fresh rollup identifier ("rollup_<uuid>").
func NewRollupID() string {
	return "rollup_" + uuid.New().String()
}

// NewExecutionID returns a fresh execution identifier ("exec_<uuid>").
func NewExecutionID() string {
	return "exec_" + uuid.New().String()
}

// NewEntryID returns a fresh external-object entry identifier.
func NewEntryID() string {
	return "entry_" + uuid.New().String()
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.New().String()
}

const dlqRandAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewDeadLetterID returns a fresh DLQ identifier ("dlq_<epoch>_<rand9>").
func NewDeadLetterID() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = dlqRandAlphabet[rand.IntN(len(dlqRandAlphabet))]
	}
	return fmt.Sprintf("dlq_%d_%s", time.Now().Unix(), string(b))
}
