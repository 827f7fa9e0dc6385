package visa

import "time"

// Connector is the capability every transport backend provides. An
// implementation owns its transport handle and must be safe for concurrent
// use; Instrument adds no locking of its own.
type Connector interface {
	SetTimeout(d time.Duration)
	Command(cmd string) error
	QueryRaw(cmd string) ([]byte, error)
	Query(cmd string) (string, error)
}
