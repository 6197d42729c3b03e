// ABOUTME: Root cobra command that runs the soundboard
// ABOUTME: Loads config, sets up logging and runs the engine, server and TUI until signalled
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/soundboard-go/internal/config"
	"github.com/Resonate-Protocol/soundboard-go/internal/logging"
	"github.com/Resonate-Protocol/soundboard-go/internal/ui"
	"github.com/Resonate-Protocol/soundboard-go/internal/version"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	v = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "soundboard",
	Short: "A real-time soundboard playback engine",
	Long: `Soundboard plays audio clips on one or more output devices at once.

Clips can loop, be queued to play one after another, or be marked exclusive so
a newer exclusive clip cuts off the older ones. A websocket server lets remote
clients trigger and stop clips, and a terminal UI shows what is playing.`,
	Version:      version.Version,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./soundboard.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("driver", config.DefaultDriver, "audio driver (malgo, oto, null)")
	rootCmd.PersistentFlags().String("log-file", config.DefaultLogFile, "log file path")

	// Local flags for the serve command
	rootCmd.Flags().Bool("no-tui", false, "disable the TUI and stream logs to stdout")
	rootCmd.Flags().Bool("no-server", false, "disable the remote control server")
	rootCmd.Flags().String("host", config.DefaultHost, "address the remote control server binds to")
	rootCmd.Flags().Int("port", config.DefaultPort, "remote control server port")
	rootCmd.Flags().String("name", "", "server name (default: hostname-soundboard)")
	rootCmd.Flags().Bool("mdns", false, "advertise the server over mDNS")

	// Bind flags to viper
	_ = v.BindPFlag("audio.driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = v.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = v.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("server.name", rootCmd.Flags().Lookup("name"))
	_ = v.BindPFlag("server.mdns", rootCmd.Flags().Lookup("mdns"))

	rootCmd.AddCommand(devicesCmd, playCmd, versionCmd)
}

// initConfig applies flags that adjust other settings
func initConfig() {
	if verbose {
		v.Set("log.level", "debug")
	}
}

// loadConfig reads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// runServe starts the soundboard
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	noTUI, _ := cmd.Flags().GetBool("no-tui")
	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		cfg.Server.Enabled = false
	}

	// TUI mode logs only to the file
	logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.File, noTUI)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	log.Info("Starting soundboard", "version", version.Version, "driver", cfg.Audio.Driver)

	app, err := NewApp(cfg, v)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start soundboard: %w", err)
	}
	if addr := app.Addr(); addr != "" {
		log.Info("Remote control listening", "addr", addr)
	}

	// Setup graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	var tuiDone chan error
	var quit <-chan struct{}
	var tui *ui.TUI
	if !noTUI {
		var clients ui.ClientSource
		if srv := app.Server(); srv != nil {
			clients = srv
		}
		tui = ui.New(app.Name(), app.Addr(), app.Engine(), clients)
		quit = tui.QuitChan()
		tuiDone = make(chan error, 1)
		go func() {
			tuiDone <- tui.Start()
		}()
	}

	var runErr error
	select {
	case sig := <-signalChan:
		log.Info("Received signal, shutting down gracefully", "signal", sig)
	case <-quit:
		log.Info("Quit requested from TUI")
	case err := <-tuiDone:
		if err != nil {
			runErr = fmt.Errorf("TUI failed: %w", err)
		}
		tuiDone = nil
	case err := <-app.Errors():
		runErr = err
	}

	if tui != nil {
		tui.Stop()
		if tuiDone != nil {
			<-tuiDone
		}
	}

	if err := app.Stop(); err != nil {
		log.Warn("Shutdown finished with errors", "err", err)
	}
	return runErr
}
