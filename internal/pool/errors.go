package pool

import "errors"

var (
	ErrInvalidConfig = errors.New("pool: invalid config")
	ErrAllocation    = errors.New("pool: region allocation failed")
	ErrAgentCreation = errors.New("pool: agent creation failed")
	ErrNilWork       = errors.New("pool: nil work item")
	ErrUnknownHost   = errors.New("pool: unknown host")
)
