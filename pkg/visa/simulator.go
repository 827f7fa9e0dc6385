package visa

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
)

// KindSim selects the in-memory simulator transport.
const KindSim address.InterfaceKind = "SIM"

// SimSpec resolves simulator addresses of the form SIM[board]::<name>. It is
// never part of DefaultRegistry.
var SimSpec = address.InterfaceSpec{
	Kind:      KindSim,
	Keyword:   "SIM",
	MinFields: 1,
}

// ErrNoSimResponse is returned by the simulator for queries it has no answer
// for, the way a real instrument would time out.
var ErrNoSimResponse = errors.New("visa: simulator has no response")

// SimOp names a simulator operation.
type SimOp string

const (
	SimOpSetTimeout SimOp = "set_timeout"
	SimOpCommand    SimOp = "command"
	SimOpQuery      SimOp = "query"
	SimOpQueryRaw   SimOp = "query_raw"
)

// SimCall captures one call made on a SimConnector.
type SimCall struct {
	Connector string // ID of the connector that served the call
	Op        SimOp
	Cmd       string
	Timeout   time.Duration
}

// SimConnector is an in-memory Connector useful for tests and dry runs. It
// records every call and answers queries from Responses or OnQuery.
type SimConnector struct {
	ID        string
	Responses map[string][]byte

	// OnCommand, when set, decides the outcome of Command.
	OnCommand func(cmd string) error
	// OnQuery, when set, produces query responses ahead of Responses.
	OnQuery func(cmd string) ([]byte, error)

	mu      sync.Mutex
	timeout time.Duration
	calls   []SimCall
	closes  int
}

// NewSimConnector returns a simulator that answers "*IDN?" with an
// identification string naming id.
func NewSimConnector(id string) *SimConnector {
	return &SimConnector{
		ID: id,
		Responses: map[string][]byte{
			"*IDN?": []byte(fmt.Sprintf("OpenTraceLab,Simulator,%s,1.0\n", id)),
		},
	}
}

// SimFactory returns a Factory creating one SimConnector per connect, named
// after the first address field. setup, if non-nil, customises each new
// connector before it is returned.
func SimFactory(setup func(*SimConnector)) Factory {
	return func(res address.Resolved) (Connector, error) {
		sim := NewSimConnector(res.Fields[0])
		if setup != nil {
			setup(sim)
		}
		return sim, nil
	}
}

func (s *SimConnector) record(op SimOp, cmd string) {
	s.calls = append(s.calls, SimCall{Connector: s.ID, Op: op, Cmd: cmd, Timeout: s.timeout})
}

// Calls returns a copy of the calls recorded so far.
func (s *SimConnector) Calls() []SimCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimCall(nil), s.calls...)
}

// Timeout returns the last timeout set.
func (s *SimConnector) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// CloseCount reports how many times Close was called.
func (s *SimConnector) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *SimConnector) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	s.record(SimOpSetTimeout, "")
}

func (s *SimConnector) Command(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(SimOpCommand, cmd)
	if s.OnCommand != nil {
		return s.OnCommand(cmd)
	}
	return nil
}

func (s *SimConnector) QueryRaw(cmd string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(SimOpQueryRaw, cmd)
	return s.respond(cmd)
}

func (s *SimConnector) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(SimOpQuery, cmd)
	raw, err := s.respond(cmd)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("visa: simulator response to %q is not valid UTF-8", cmd)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r"), nil
}

func (s *SimConnector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *SimConnector) respond(cmd string) ([]byte, error) {
	if s.OnQuery != nil {
		return s.OnQuery(cmd)
	}
	if resp, ok := s.Responses[strings.TrimSpace(cmd)]; ok {
		return append([]byte(nil), resp...), nil
	}
	return nil, fmt.Errorf("%w for %q", ErrNoSimResponse, cmd)
}
