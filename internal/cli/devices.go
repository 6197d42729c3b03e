// ABOUTME: Devices command
// ABOUTME: Lists output devices and warns about profiles that target missing ones
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// devicesCmd lists the output devices clips can target
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List output devices",
	Long: `List the output devices of the configured audio driver, in the order the
engine sees them, and flag profile targets that name a missing device.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, nil, nil)
	if err != nil {
		return err
	}
	defer eng.Dispose()

	resolver := eng.Resolver()
	devices, err := resolver.OutputDevices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}

	// ids are what the engine resolves each name to; a duplicate name shares
	// the id of its first occurrence
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Output devices (%s):\n", cfg.Audio.Driver)
	for _, name := range devices {
		id, err := resolver.Resolve(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "  %d. %s\n", id, name)
	}

	for name, targets := range cfg.Profiles {
		for _, missing := range resolver.MissingDevices(targets) {
			fmt.Fprintf(out, "warning: profile %s targets missing device %q\n", name, missing)
		}
	}
	return nil
}
