// ABOUTME: One-shot play command
// ABOUTME: Plays a file on a profile or explicit devices and waits for it to finish
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/config"
	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/logging"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// errNothingPlayed means no target produced a playing instance
var errNothingPlayed = errors.New("clip did not start on any device")

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a file and wait for it to finish",
	Long: `Play a single file without starting the remote control server.

Targets come from --device (repeatable, full volume) or from a configured
profile. Looping clips play until --duration elapses or the command is
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringSlice("device", nil, "output device name (repeatable)")
	playCmd.Flags().String("profile", config.DefaultProfile, "output profile")
	playCmd.Flags().Int("volume", 100, "clip volume (0-100)")
	playCmd.Flags().Float64("pitch", 0, "pitch shift in semitones")
	playCmd.Flags().Int("tempo", 0, "tempo change in percent")
	playCmd.Flags().Bool("loop", false, "restart the clip when it ends")
	playCmd.Flags().Duration("duration", 0, "stop after this long (0 plays to the end)")
}

// playOptions are the resolved play command inputs
type playOptions struct {
	path     string
	devices  []string
	profile  string
	volume   int
	pitch    float64
	tempo    int
	loop     bool
	duration time.Duration
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(cfg.Log.Level, "", true)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	flags := cmd.Flags()
	opts := playOptions{path: args[0]}
	opts.devices, _ = flags.GetStringSlice("device")
	opts.profile, _ = flags.GetString("profile")
	opts.volume, _ = flags.GetInt("volume")
	opts.pitch, _ = flags.GetFloat64("pitch")
	opts.tempo, _ = flags.GetInt("tempo")
	opts.loop, _ = flags.GetBool("loop")
	opts.duration, _ = flags.GetDuration("duration")

	eng, err := newEngine(cfg, nil, nil)
	if err != nil {
		return err
	}
	eng.Start()
	defer eng.Dispose()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	stop := make(chan struct{})
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-signalChan:
			close(stop)
		case <-finished:
		}
	}()

	return playAndWait(eng, config.NewProfiles(cfg.Profiles), opts, stop, cmd.OutOrStdout())
}

// playAndWait plays opts.path and blocks until every instance has ended,
// the duration elapses or stop is closed
func playAndWait(eng *engine.Engine, profiles *config.Profiles, opts playOptions, stop <-chan struct{}, out io.Writer) error {
	var targets []engine.OutputTarget
	if len(opts.devices) > 0 {
		for _, d := range opts.devices {
			targets = append(targets, engine.OutputTarget{Device: d, Volume: 100})
		}
	} else {
		var ok bool
		targets, ok = profiles.Get(opts.profile)
		if !ok {
			return fmt.Errorf("unknown profile %q (have %v)", opts.profile, profiles.Names())
		}
	}

	for _, missing := range eng.MissingDevices(targets) {
		log.Warn("Device not connected", "device", missing)
	}

	events, unwatch := eng.Watch()
	defer unwatch()

	clip := engine.SoundClip{
		Name:    engine.NameFromPath(opts.path),
		Path:    opts.path,
		Volume:  opts.volume,
		Targets: targets,
		Loop:    opts.loop,
		Pitch:   opts.pitch,
		Tempo:   opts.tempo,
	}
	eng.Play(clip)

	playing := eng.CurrentlyPlaying()
	if len(playing) == 0 {
		return errNothingPlayed
	}
	for _, p := range playing {
		fmt.Fprintf(out, "Playing %s (%.1fs)\n", p, p.Length.Seconds())
	}

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	// a looping instance is briefly absent while it restarts, so loops only
	// end early once a restart has failed
	failed := false
	for {
		select {
		case <-stop:
			eng.Reset()
			return nil
		case <-timeout:
			eng.Reset()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == engine.EventError {
				fmt.Fprintf(out, "error: %v\n", ev.Err)
				failed = true
			}
			if (!opts.loop || failed) && len(eng.CurrentlyPlaying()) == 0 {
				return nil
			}
		}
	}
}
