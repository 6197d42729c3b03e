// ABOUTME: Version command
// ABOUTME: Prints product, protocol and runtime versions
package cli

import (
	"fmt"
	"runtime"

	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/Resonate-Protocol/soundboard-go/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the soundboard version, protocol version and Go runtime.",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s version %s\n", version.Manufacturer, version.Product, version.Version)
		fmt.Fprintf(out, "Protocol: %d\n", protocol.Version)
		fmt.Fprintf(out, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
