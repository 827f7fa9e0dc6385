package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/visa"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `timeout: 2s
aliases:
  scope: USB0::0x0699::0x0368::C1::INSTR
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Reset flags to prevent accumulation between tests
	verbose = false
	simulate = false
	timeout = 0
	queryRaw = false
	queryOut = ""
	listJSON = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", writeTestConfig(t)}, args...))
	err := execute()
	return out.String(), err
}

func TestExecuteFlushesLogger(t *testing.T) {
	var logged bytes.Buffer
	ws := &zapcore.BufferedWriteSyncer{WS: zapcore.AddSync(&logged), FlushInterval: time.Hour}
	t.Cleanup(func() { _ = ws.Stop() })

	orig := newLogger
	newLogger = func(bool) (*zap.Logger, error) {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		return zap.New(zapcore.NewCore(enc, ws, zapcore.DebugLevel)), nil
	}
	t.Cleanup(func() { newLogger = orig })

	_, err := runCLI(t, "--simulate", "query", "SIM::bench", "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, logged.String(), "connected")
}

func TestCLIResolveE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     string
		wantContain []string
	}{
		{
			name: "prefixed USB",
			args: []string{"resolve", "USB::0x0699::0x0368::SN123::INSTR"},
			wantContain: []string{
				"Interface: USB (board 0)",
				"Vendor:    0x0699 Tektronix",
				"Product:   0x0368",
				"Serial:    SN123",
				"Canonical: USB0::0x0699::0x0368::SN123::INSTR",
			},
		},
		{
			name:        "bare hex USB",
			args:        []string{"resolve", "USB::0699::0368::SN123::INSTR"},
			wantContain: []string{"Vendor:    0x0699", "Product:   0x0368"},
		},
		{
			name:        "alias",
			args:        []string{"resolve", "scope"},
			wantContain: []string{"Serial:    C1"},
		},
		{
			name:    "unsupported interface",
			args:    []string{"resolve", "GPIB::1::INSTR"},
			wantErr: "unrecognized interface",
		},
		{
			name:    "bad vendor id",
			args:    []string{"resolve", "USB::ZZZZ::0x0368::SN::INSTR"},
			wantErr: "malformed field",
		},
		{
			name:        "simulator address",
			args:        []string{"--simulate", "resolve", "SIM2::bench"},
			wantContain: []string{"Interface: SIM (board 2)", "Canonical: SIM2::bench"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantContain {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCLIQuerySimulated(t *testing.T) {
	out, err := runCLI(t, "--simulate", "query", "SIM::bench", "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "OpenTraceLab,Simulator,bench,1.0\n", out)

	out, err = runCLI(t, "--simulate", "query", "scope", "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "OpenTraceLab,Simulator,USB0::0x0699::0x0368::C1::INSTR,1.0\n", out)
	assert.Equal(t, 2*time.Second, timeout)

	_, err = runCLI(t, "--simulate", "query", "SIM::bench", "MEAS:VOLT?")
	require.Error(t, err)
	assert.ErrorIs(t, err, visa.ErrTransportIO)
}

func TestCLIQueryRaw(t *testing.T) {
	out, err := runCLI(t, "--simulate", "query", "--raw", "SIM::bench", "*OPC?")
	require.NoError(t, err)
	assert.Contains(t, out, "31 0a")

	path := filepath.Join(t.TempDir(), "resp.bin")
	out, err = runCLI(t, "--simulate", "query", "SIM::bench", "*OPC?", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 bytes")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("1\n"), data)
}

func TestCLIWriteSimulated(t *testing.T) {
	_, err := runCLI(t, "--simulate", "--timeout", "250ms", "write", "SIM::psu", "*RST", "OUTP ON")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timeout)

	_, err = runCLI(t, "write", "SIM::psu", "*RST")
	assert.ErrorIs(t, err, visa.ErrUnrecognizedInterface)
}

func TestExecShellLine(t *testing.T) {
	log = zap.NewNop()
	reg := visa.NewRegistry()
	var sim *visa.SimConnector
	reg.Register(visa.SimSpec, visa.SimFactory(func(s *visa.SimConnector) {
		s.Responses["*OPC?"] = []byte("1\n")
		s.Responses[":MEAS:VOLT?"] = []byte("1.25\n")
		sim = s
	}))
	inst, err := reg.Connect("SIM::shell")
	require.NoError(t, err)
	defer inst.Close()

	var out bytes.Buffer
	quit, err := execShellLine(inst, "*IDN?", &out)
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, "OpenTraceLab,Simulator,shell,1.0\n", out.String())

	out.Reset()
	_, err = execShellLine(inst, "  *RST  ", &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())

	_, err = execShellLine(inst, ":timeout 1s", &out)
	require.NoError(t, err)
	assert.Equal(t, time.Second, sim.Timeout())

	_, err = execShellLine(inst, ":timeout soon", &out)
	assert.Error(t, err)

	out.Reset()
	_, err = execShellLine(inst, ":raw *OPC?", &out)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.String(), "31 0a"))

	out.Reset()
	_, err = execShellLine(inst, ":RUN", &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())

	out.Reset()
	_, err = execShellLine(inst, ":MEAS:VOLT?", &out)
	require.NoError(t, err)
	assert.Equal(t, "1.25\n", out.String())

	_, err = execShellLine(inst, ":timeoutx", &out)
	require.NoError(t, err)

	quit, err = execShellLine(inst, ":quit", &out)
	require.NoError(t, err)
	assert.True(t, quit)

	calls := sim.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, visa.SimCall{Connector: "shell", Op: visa.SimOpCommand, Cmd: "*RST", Timeout: 0}, calls[1])
	assert.Contains(t, calls, visa.SimCall{Connector: "shell", Op: visa.SimOpCommand, Cmd: ":RUN", Timeout: time.Second})
	assert.Contains(t, calls, visa.SimCall{Connector: "shell", Op: visa.SimOpQuery, Cmd: ":MEAS:VOLT?", Timeout: time.Second})
	assert.Contains(t, calls, visa.SimCall{Connector: "shell", Op: visa.SimOpCommand, Cmd: ":timeoutx", Timeout: time.Second})
}
