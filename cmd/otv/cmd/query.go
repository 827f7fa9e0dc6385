package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	queryRaw bool
	queryOut string
)

var queryCmd = &cobra.Command{
	Use:   "query <address|alias> <query>",
	Short: "Send a query and print the response",
	Long: `Send a query to an instrument and print its response. With --raw the response
bytes are not decoded: they are written to --out, or hex-dumped to stdout.

Examples:
  otv query scope '*IDN?'
  otv query scope 'CURVE?' --raw --out waveform.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryRaw, "raw", false, "do not decode the response as text")
	queryCmd.Flags().StringVarP(&queryOut, "out", "o", "", "write the raw response to a file")
}

func runQuery(cmd *cobra.Command, args []string) error {
	inst, err := connect(args[0])
	if err != nil {
		return err
	}
	defer inst.Close()

	out := cmd.OutOrStdout()
	if !queryRaw && queryOut == "" {
		resp, err := inst.Query(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp)
		return nil
	}

	data, err := inst.QueryRaw(args[1])
	if err != nil {
		return err
	}
	log.Debug("raw response", zap.Int("bytes", len(data)))
	if queryOut != "" {
		if err := os.WriteFile(queryOut, data, 0o644); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		fmt.Fprintf(out, "Wrote %d bytes to %s\n", len(data), queryOut)
		return nil
	}
	fmt.Fprint(out, hex.Dump(data))
	return nil
}
