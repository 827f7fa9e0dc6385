package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OpenTraceLab/OpenTraceVISA/internal/config"
	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
	"github.com/OpenTraceLab/OpenTraceVISA/pkg/visa"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
	simulate   bool

	// Set up by PersistentPreRunE
	cfg      *config.Config
	log      *zap.Logger
	registry *visa.Registry
)

var rootCmd = &cobra.Command{
	Use:   "otv",
	Short: "Talk to test instruments through VISA resource addresses",
	Long: `A small VISA-style instrument client. Instruments are addressed with
resource strings such as USB0::0x0699::0x0368::C012345::INSTR or with aliases
from the config file.

Examples:
  otv list                                             # List attached USBTMC instruments
  otv resolve USB::0699::0368::C012345::INSTR          # Show how an address is parsed
  otv query USB0::0x0699::0x0368::C012345::INSTR '*IDN?'
  otv write scope ':RUN'                               # Use an alias from the config
  otv shell scope                                      # Interactive session
  otv --simulate query SIM::bench '*IDN?'              # No hardware needed`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs the root command and flushes the logger before returning, so
// nothing buffered is lost when Execute exits.
func execute() error {
	defer func() {
		if log != nil {
			_ = log.Sync()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(),
		"config file (.yaml or .toml)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0,
		"transport timeout (default from config, 5s)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false,
		"serve USB and SIM:: addresses from an in-memory simulator")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	if log, err = newLogger(verbose); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if cfg, err = config.LoadOptional(configPath); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	log.Debug("configuration loaded",
		zap.String("path", configPath),
		zap.Duration("timeout", timeout),
		zap.Int("aliases", len(cfg.Aliases)))

	registry = newRegistry(simulate)
	return nil
}

// newLogger builds the CLI logger. Tests replace it.
var newLogger = func(verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.DisableStacktrace = true
	return zc.Build()
}

// newRegistry returns the transports available to commands. The simulated
// registry answers USB addresses too, so scripts can be dry-run unchanged.
func newRegistry(simulate bool) *visa.Registry {
	if !simulate {
		return visa.DefaultRegistry()
	}
	reg := visa.NewRegistry()
	reg.Register(visa.SimSpec, visa.SimFactory(seedSimulator))
	reg.Register(address.USBSpec, func(res address.Resolved) (visa.Connector, error) {
		sim := visa.NewSimConnector(res.USB.String())
		seedSimulator(sim)
		return sim, nil
	})
	return reg
}

func seedSimulator(sim *visa.SimConnector) {
	sim.Responses["*OPC?"] = []byte("1\n")
	sim.Responses["*ESR?"] = []byte("0\n")
	sim.Responses["SYST:ERR?"] = []byte("0,\"No error\"\n")
}

// connect resolves an alias or address and opens the instrument with the
// configured timeout applied.
func connect(nameOrAddr string) (*visa.Instrument, error) {
	addr := cfg.Lookup(nameOrAddr)
	if addr != nameOrAddr {
		log.Debug("alias expanded", zap.String("alias", nameOrAddr), zap.String("address", addr))
	}

	start := time.Now()
	inst, err := registry.Connect(addr)
	if err != nil {
		return nil, err
	}
	inst.SetTimeout(timeout)
	log.Info("connected",
		zap.String("address", inst.Address().String()),
		zap.String("interface", string(inst.Address().Kind)),
		zap.Duration("elapsed", time.Since(start)))
	return inst, nil
}
