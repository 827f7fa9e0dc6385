package visa

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
)

// usbTestRegistry returns a registry whose USB factory hands out simulators
// and remembers the resolved addresses it was called with.
func usbTestRegistry(t *testing.T) (*Registry, *[]address.Resolved) {
	t.Helper()
	var seen []address.Resolved
	reg := NewRegistry()
	reg.Register(address.USBSpec, func(res address.Resolved) (Connector, error) {
		seen = append(seen, res)
		return NewSimConnector(res.USB.Serial), nil
	})
	return reg, &seen
}

func TestConnectUSBDispatchesWithParsedIDs(t *testing.T) {
	reg, seen := usbTestRegistry(t)

	inst, err := reg.Connect("USB::0x0699::0x0368::SN123::INSTR")
	require.NoError(t, err)
	defer inst.Close()

	require.Len(t, *seen, 1)
	assert.Equal(t, uint16(0x0699), (*seen)[0].USB.VendorID)
	assert.Equal(t, uint16(0x0368), (*seen)[0].USB.ProductID)
	assert.Equal(t, "SN123", (*seen)[0].USB.Serial)
	assert.Equal(t, address.KindUSB, inst.Address().Kind)
}

func TestConnectUnprefixedMatchesPrefixed(t *testing.T) {
	reg, seen := usbTestRegistry(t)

	a, err := reg.Connect("USB::0x0699::0x0368::SN123::INSTR")
	require.NoError(t, err)
	defer a.Close()
	b, err := reg.Connect("USB::0699::0368::SN123::INSTR")
	require.NoError(t, err)
	defer b.Close()

	require.Len(t, *seen, 2)
	assert.Equal(t, (*seen)[0].USB, (*seen)[1].USB)
}

func TestConnectUnrecognizedInterface(t *testing.T) {
	reg, seen := usbTestRegistry(t)

	inst, err := reg.Connect("GPIB::1::INSTR")
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.ErrorIs(t, err, ErrUnrecognizedInterface)
	assert.Empty(t, *seen, "factory must not run")

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "GPIB::1::INSTR", cerr.Address)
}

func TestConnectMalformedVendorID(t *testing.T) {
	reg, seen := usbTestRegistry(t)

	inst, err := reg.Connect("USB::ZZZZ::0x0368::SN::INSTR")
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.ErrorIs(t, err, ErrMalformedField)
	assert.Empty(t, *seen)

	var aerr *address.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 1, aerr.Segment)
	assert.Equal(t, "ZZZZ", aerr.Value)
}

func TestConnectMissingField(t *testing.T) {
	reg, _ := usbTestRegistry(t)

	_, err := reg.Connect("USB::0x0699")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestConnectTransportFailure(t *testing.T) {
	notFound := errors.New("device not found")
	reg := NewRegistry()
	reg.Register(address.USBSpec, func(address.Resolved) (Connector, error) {
		return nil, notFound
	})

	inst, err := reg.Connect("USB::0x0699::0x0368::SN::INSTR")
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.ErrorIs(t, err, ErrTransportConnect)
	assert.ErrorIs(t, err, notFound)
	assert.NotErrorIs(t, err, ErrUnrecognizedInterface)
}

func TestDispatchNilConnector(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, func(address.Resolved) (Connector, error) { return nil, nil })

	_, err := reg.Connect("SIM::x")
	assert.ErrorIs(t, err, ErrTransportConnect)
}

func TestCommandAndQueryShareConnector(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(func(s *SimConnector) {
		s.Responses["*IDN?"] = []byte("ACME,Scope,1,2\n")
	}))

	inst, err := reg.Connect("SIM::bench")
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.Command("*IDN"))
	idn, err := inst.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "ACME,Scope,1,2", idn)

	sim := inst.shared.conn.(*SimConnector)
	calls := sim.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, SimCall{Connector: "bench", Op: SimOpCommand, Cmd: "*IDN"}, calls[0])
	assert.Equal(t, SimCall{Connector: "bench", Op: SimOpQuery, Cmd: "*IDN?"}, calls[1])
}

func TestQueryRawPassesBytesThrough(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(func(s *SimConnector) {
		s.Responses["CURV?"] = []byte{'#', '1', '3', 0x00, 0xff, 0x80, '\n'}
	}))
	inst, err := reg.Connect("SIM::scope")
	require.NoError(t, err)
	defer inst.Close()

	raw, err := inst.QueryRaw("CURV?")
	require.NoError(t, err)
	assert.Equal(t, []byte{'#', '1', '3', 0x00, 0xff, 0x80, '\n'}, raw)

	_, err = inst.Query("CURV?")
	assert.ErrorIs(t, err, ErrTransportIO)
}

func TestQueryTrimsOneTerminator(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(func(s *SimConnector) {
		s.Responses["A?"] = []byte("1\r\n")
		s.Responses["B?"] = []byte("line\n\n")
	}))
	inst, err := reg.Connect("SIM::dmm")
	require.NoError(t, err)
	defer inst.Close()

	got, err := inst.Query("A?")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	got, err = inst.Query("B?")
	require.NoError(t, err)
	assert.Equal(t, "line\n", got)
}

func TestTransportIOErrorKeepsHandleUsable(t *testing.T) {
	busy := errors.New("device busy")
	fail := true
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(func(s *SimConnector) {
		s.OnCommand = func(string) error {
			if fail {
				return busy
			}
			return nil
		}
	}))
	inst, err := reg.Connect("SIM::psu")
	require.NoError(t, err)
	defer inst.Close()

	err = inst.Command("OUTP ON")
	assert.ErrorIs(t, err, ErrTransportIO)
	assert.ErrorIs(t, err, busy)

	fail = false
	assert.NoError(t, inst.Command("OUTP ON"))

	_, err = inst.Query("MEAS:VOLT?")
	assert.ErrorIs(t, err, ErrTransportIO)
	assert.ErrorIs(t, err, ErrNoSimResponse)
}

func TestClonesShareTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(nil))
	a, err := reg.Connect("SIM::dmm")
	require.NoError(t, err)
	b := a.Clone()
	defer a.Close()
	defer b.Close()

	sim := a.shared.conn.(*SimConnector)
	assert.Same(t, sim, b.shared.conn.(*SimConnector))

	a.SetTimeout(3 * time.Second)
	assert.Equal(t, 3*time.Second, sim.Timeout())

	b.SetTimeout(750 * time.Millisecond)
	assert.Equal(t, 750*time.Millisecond, a.shared.conn.(*SimConnector).Timeout())

	require.NoError(t, b.Command("READ?"))
	calls := sim.Calls()
	assert.Equal(t, 750*time.Millisecond, calls[len(calls)-1].Timeout)
}

func TestLastCloseReleasesConnector(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(nil))
	a, err := reg.Connect("SIM::dmm")
	require.NoError(t, err)
	sim := a.shared.conn.(*SimConnector)

	b := a.Clone()
	c := b.Clone()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 0, sim.CloseCount())
	assert.ErrorIs(t, a.Command("X"), ErrClosed)

	require.NoError(t, b.Command("X"), "other handles stay connected")
	require.NoError(t, b.Close())
	assert.Equal(t, 0, sim.CloseCount())

	require.NoError(t, c.Close())
	assert.Equal(t, 1, sim.CloseCount())

	d := c.Clone()
	_, err = d.Query("*IDN?")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, d.Close())
	assert.Equal(t, 1, sim.CloseCount())
}

func TestConcurrentHandles(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SimSpec, SimFactory(nil))
	root, err := reg.Connect("SIM::shared")
	require.NoError(t, err)
	sim := root.shared.conn.(*SimConnector)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		h := root.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer h.Close()
			for j := 0; j < 10; j++ {
				assert.NoError(t, h.Command("*WAI"))
				idn, err := h.Query("*IDN?")
				assert.NoError(t, err)
				assert.Equal(t, "OpenTraceLab,Simulator,shared,1.0", idn)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sim.Calls(), workers*20)
	assert.Equal(t, 0, sim.CloseCount())
	require.NoError(t, root.Close())
	assert.Equal(t, 1, sim.CloseCount())
}

func TestDefaultRegistryKnowsOnlyUSB(t *testing.T) {
	assert.Equal(t, []address.InterfaceKind{address.KindUSB}, DefaultRegistry().Kinds())

	_, err := Connect("GPIB::1::INSTR")
	assert.ErrorIs(t, err, ErrUnrecognizedInterface)

	_, err = Connect("SIM::x")
	assert.ErrorIs(t, err, ErrUnrecognizedInterface)

	_, err = Connect("USB::ZZZZ::0x0368::SN::INSTR")
	assert.ErrorIs(t, err, ErrMalformedField)
}

func TestDispatchUnregisteredKind(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dispatch(address.Resolved{Kind: "LOOP"})
	assert.ErrorIs(t, err, ErrUnrecognizedInterface)
}
