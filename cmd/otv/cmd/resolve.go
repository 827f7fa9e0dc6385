package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
	"github.com/OpenTraceLab/OpenTraceVISA/pkg/usbid"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <address|alias>",
	Short: "Show how a resource address is parsed",
	Long: `Resolve a VISA resource address without opening a connection and print the
transport it selects together with the transport-specific fields.

Examples:
  otv resolve USB::0x0699::0x0368::C012345::INSTR
  otv resolve usb0::1ab1::04ce`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	res, err := registry.Resolve(cfg.Lookup(args[0]))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Interface: %s (board %d)\n", res.Kind, res.Board)
	fmt.Fprintf(out, "Fields:    %s\n", strings.Join(res.Fields, ", "))
	if res.Kind == address.KindUSB {
		fmt.Fprintf(out, "Vendor:    0x%04X %s\n", res.USB.VendorID, usbid.VendorName(res.USB.VendorID))
		fmt.Fprintf(out, "Product:   0x%04X\n", res.USB.ProductID)
		if res.USB.Serial != "" {
			fmt.Fprintf(out, "Serial:    %s\n", res.USB.Serial)
		}
		if res.USB.Interface >= 0 {
			fmt.Fprintf(out, "Interface: %d\n", res.USB.Interface)
		}
	}
	fmt.Fprintf(out, "Canonical: %s\n", res)
	return nil
}
