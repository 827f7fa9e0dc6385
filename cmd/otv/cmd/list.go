package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/usbtmc"
)

var listJSON bool

// ResourceInfo is the JSON form of a discovered instrument.
type ResourceInfo struct {
	Resource     string `json:"resource"`
	Label        string `json:"label"`
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	Serial       string `json:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Interface    int    `json:"interface"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached USBTMC instruments",
	Long: `Scan the host for USB Test & Measurement Class devices and print their VISA
resource addresses. Configured aliases are listed as well.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	devices, err := usbtmc.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover instruments: %w", err)
	}
	log.Debug("discovery finished", zap.Int("devices", len(devices)))

	out := cmd.OutOrStdout()
	if listJSON {
		infos := make([]ResourceInfo, 0, len(devices))
		for _, d := range devices {
			infos = append(infos, ResourceInfo{
				Resource:     d.Resource(),
				Label:        d.Label(),
				VendorID:     fmt.Sprintf("0x%04X", d.VendorID),
				ProductID:    fmt.Sprintf("0x%04X", d.ProductID),
				Serial:       d.Serial,
				Manufacturer: d.Manufacturer,
				Product:      d.Product,
				Interface:    d.Interface,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No instruments found.")
	} else {
		fmt.Fprintln(out, "Detected instruments:")
		for _, d := range devices {
			fmt.Fprintf(out, "  - %s  %s\n", d.Resource(), d.Label())
		}
	}

	if names := cfg.AliasNames(); len(names) > 0 {
		fmt.Fprintln(out, "\nAliases:")
		for _, n := range names {
			fmt.Fprintf(out, "  %-12s %s\n", n, cfg.Aliases[n])
		}
	}
	return nil
}
