package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var writeCmd = &cobra.Command{
	Use:   "write <address|alias> <command>...",
	Short: "Send one or more commands to an instrument",
	Long: `Send commands to an instrument without reading a response. Each argument is
sent as a separate message.

Examples:
  otv write scope '*RST' ':AUTOSET EXECUTE'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	inst, err := connect(args[0])
	if err != nil {
		return err
	}
	defer inst.Close()

	for _, c := range args[1:] {
		log.Debug("command", zap.String("cmd", c))
		if err := inst.Command(c); err != nil {
			return err
		}
	}
	return nil
}
