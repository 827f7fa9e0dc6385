package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/visa"
)

var shellCmd = &cobra.Command{
	Use:   "shell <address|alias>",
	Short: "Interactive session with an instrument",
	Long: `Open an interactive session. Lines ending in '?' are sent as queries and their
responses printed; other lines are sent as commands. SCPI lines starting with
a colon, such as :RUN or :MEAS:VOLT?, go to the instrument unless they are
one of the meta commands below.

Meta commands:
  :timeout <duration>   change the transport timeout
  :raw <query>          send a query and hex-dump the raw response
  :quit                 leave the shell`,
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	inst, err := connect(args[0])
	if err != nil {
		return err
	}
	defer inst.Close()

	rlCfg := &readline.Config{
		Prompt:          "otv> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	}
	if configPath != "" {
		rlCfg.HistoryFile = filepath.Join(filepath.Dir(configPath), "history")
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "Connected to %s\n", inst.Address())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := execShellLine(inst, line, out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execShellLine runs one shell line against inst and reports whether the
// session should end.
func execShellLine(inst *visa.Instrument, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == ":quit" || line == ":q":
		return true, nil
	case line == ":timeout" || strings.HasPrefix(line, ":timeout "):
		arg := strings.TrimSpace(strings.TrimPrefix(line, ":timeout"))
		d, err := time.ParseDuration(arg)
		if err != nil {
			return false, fmt.Errorf("invalid duration %q", arg)
		}
		inst.SetTimeout(d)
		fmt.Fprintf(out, "timeout set to %s\n", d)
		return false, nil
	case strings.HasPrefix(line, ":raw "):
		data, err := inst.QueryRaw(strings.TrimSpace(strings.TrimPrefix(line, ":raw ")))
		if err != nil {
			return false, err
		}
		fmt.Fprint(out, hex.Dump(data))
		return false, nil
	case strings.HasSuffix(line, "?"):
		resp, err := inst.Query(line)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, resp)
		return false, nil
	}

	log.Debug("command", zap.String("cmd", line))
	return false, inst.Command(line)
}
