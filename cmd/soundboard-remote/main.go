// ABOUTME: Command line remote control for a running soundboard
// ABOUTME: Connects over websocket (or finds the server with mDNS) and sends one command
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/client"
	"github.com/Resonate-Protocol/soundboard-go/internal/discovery"
	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	user       string
	timeout    time.Duration
	verbose    bool

	profile   string
	volume    int
	pitch     float64
	tempo     int
	loop      bool
	exclusive bool
)

var rootCmd = &cobra.Command{
	Use:          "soundboard-remote",
	Short:        "Control a running soundboard",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "remote"
	}

	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "", "server host:port (default: discover with mDNS)")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", hostname, "user name clips are tagged with")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "discovery and command timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	for _, c := range []*cobra.Command{playCmd, queueCmd} {
		c.Flags().StringVarP(&profile, "profile", "p", "", "output profile (default: DEFAULT)")
		c.Flags().IntVar(&volume, "volume", 100, "clip volume (0-100)")
		c.Flags().Float64Var(&pitch, "pitch", 0, "pitch shift in semitones")
		c.Flags().IntVar(&tempo, "tempo", 0, "tempo change in percent")
		c.Flags().BoolVar(&loop, "loop", false, "restart the clip when it ends")
	}
	playCmd.Flags().BoolVarP(&exclusive, "exclusive", "x", false, "stop older exclusive clips first")

	rootCmd.AddCommand(playCmd, queueCmd, stopAllCmd, stopNameCmd, stopExclusiveCmd, stopCmd, statusCmd)
}

// connect dials the server, discovering it first when no address is given
func connect(ctx context.Context) (*client.Client, error) {
	addr := serverAddr
	path := protocol.Path
	if addr == "" {
		mgr := discovery.NewManager(discovery.Config{QueryTimeout: timeout})
		info, err := mgr.Find(ctx)
		mgr.Stop()
		if err != nil {
			return nil, fmt.Errorf("discover soundboard: %w", err)
		}
		log.Info("Discovered soundboard", "name", info.Name, "addr", info.Addr())
		addr = info.Addr()
		if info.Path != "" {
			path = info.Path
		}
	}

	c := client.NewClient(client.Config{
		ServerAddr: addr,
		Path:       path,
		ClientID:   uuid.New().String(),
		Name:       user,
	})
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// withClient runs fn against a fresh connection bounded by the timeout
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func playRequest(path string) protocol.PlayRequest {
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	now := time.Now()
	return protocol.PlayRequest{
		User:           user,
		Path:           path,
		Profile:        profile,
		Volume:         &volume,
		Pitch:          pitch,
		Tempo:          tempo,
		Loop:           loop,
		Exclusive:      exclusive,
		ClientSendTime: &now,
	}
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a file now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			res, err := c.Play(ctx, playRequest(args[0]))
			if err != nil {
				return err
			}
			if exclusive {
				fmt.Fprintf(cmd.OutOrStdout(), "Playing %s (stopped %d exclusive)\n", args[0], res.Count)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Playing %s\n", args[0])
			}
			return nil
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue <file>",
	Short: "Queue a file to play when the board is idle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			res, err := c.Queue(ctx, playRequest(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as %s\n", args[0], res.ID)
			return nil
		})
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Clear the queue and stop everything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			_, err := c.StopAll(ctx)
			return err
		})
	},
}

var stopNameCmd = &cobra.Command{
	Use:   "stop-name <text>",
	Short: "Stop clips whose name contains text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			res, err := c.StopName(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d\n", res.Count)
			return nil
		})
	},
}

var stopExclusiveCmd = &cobra.Command{
	Use:   "stop-exclusive",
	Short: "Stop every exclusive clip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			res, err := c.StopExclusive(ctx, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d\n", res.Count)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <handle>",
	Short: "Stop one playing instance (see status)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid handle %q: %w", args[0], err)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			res, err := c.Stop(ctx, handle)
			if err != nil {
				return err
			}
			if res.Count == 0 {
				return fmt.Errorf("handle %d is not playing", handle)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show playing and queued clips",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			state, err := c.State(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			hello := c.Hello()
			fmt.Fprintf(out, "%s %s (profiles: %v)\n\n", hello.Name, hello.Software, hello.Profiles)

			fmt.Fprintf(out, "Playing (%d):\n", len(state.Playing))
			for _, p := range state.Playing {
				fmt.Fprintf(out, "  [%d] %s on %s  %.1f/%.1fs", p.Handle, p.Name, p.Device, p.Position, p.Length)
				if p.Loop {
					fmt.Fprint(out, "  loop")
				}
				if p.Exclusive {
					fmt.Fprint(out, "  exclusive")
				}
				fmt.Fprintln(out)
			}

			fmt.Fprintf(out, "Queued (%d):\n", len(state.Queued))
			for i, q := range state.Queued {
				fmt.Fprintf(out, "  %d. %s %v\n", i+1, q.Name, q.Devices)
			}
			return nil
		})
	},
}
