// Package main provides the entry point for the narrator CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/narrator/internal/config"
	"github.com/dgnsrekt/narrator/internal/narration"
	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/ui"
	"github.com/dgnsrekt/narrator/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	style      string
	width      uint
	mouse      bool
	noAudio    bool
	noAutoPlay bool

	rootCmd = &cobra.Command{
		Use:   "narrator [TIMELINE]",
		Short: "Narrate timelines in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRead a timeline in the terminal and %s, track by track.", keyword("listen to it")),
		),
		Example: paragraph("narrator rome.timeline.json\nnarrator --follow --voice EXAVITQu4vr4xnSDxMaL history/\ncat rome.timeline.json | narrator -"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != "auto" && styles.DefaultStyles[style] == nil {
		style = utils.ExpandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}
	if noAudio {
		viper.Set("audio.device", false)
	}
	if noAutoPlay {
		viper.Set("playback.auto_play", false)
	}

	// grab config values from Viper
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	setLogLevel(viper.GetBool("debug"))

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	// We want to use a special no-TTY style, when stdout is not a terminal
	// and there was no specific style passed by arg
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// loadConfig returns the narration settings from the config file,
// environment and flags.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// audioCacheDir is where persistent audio cache backends live unless
// cache.dir says otherwise.
func audioCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, "narrator").CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to find cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// timelineSource is a timeline document and, for files, a way to read it
// again.
type timelineSource struct {
	timeline *timeline.Timeline
	path     string
	load     ui.Loader
}

// resolveTimelinePath turns an argument into a timeline file. Directories
// must contain exactly one timeline document.
func resolveTimelinePath(arg string) (string, error) {
	if arg == "" {
		arg = "."
	}
	st, err := os.Stat(arg)
	if err != nil {
		return "", fmt.Errorf("unable to open timeline: %w", err)
	}

	if st.IsDir() {
		found, err := findTimelines(arg)
		if err != nil {
			return "", err
		}
		switch len(found) {
		case 0:
			return "", fmt.Errorf("no timeline documents in %s", arg)
		case 1:
			arg = found[0].path
		default:
			return "", fmt.Errorf("%d timeline documents in %s, pick one (see narrator ls)", len(found), arg)
		}
	} else if !utils.IsTimelineFile(arg) {
		return "", fmt.Errorf("%s is not a timeline document: use %s", arg, strings.Join(utils.TimelineExtensions, ", "))
	}

	return filepath.Abs(arg)
}

// openTimeline reads the timeline named by arg, or stdin for "-".
func openTimeline(arg string) (*timelineSource, error) {
	if arg == "-" {
		tl, err := timeline.Decode(os.Stdin, timeline.FormatJSON)
		if err != nil {
			return nil, err
		}
		return &timelineSource{timeline: tl}, nil
	}

	path, err := resolveTimelinePath(arg)
	if err != nil {
		return nil, err
	}
	tl, err := timeline.Load(path)
	if err != nil {
		return nil, err
	}
	return &timelineSource{
		timeline: tl,
		path:     path,
		load:     func() (*timeline.Timeline, error) { return timeline.Load(path) },
	}, nil
}

func execute(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	// if stdin is a pipe then read the timeline from it. note that you can
	// also explicitly use a - to read from stdin.
	if arg == "" {
		if yes, err := stdinIsPipe(); err != nil {
			return err
		} else if yes {
			arg = "-"
		}
	}

	src, err := openTimeline(arg)
	if err != nil {
		return err
	}
	return runTUI(cmd, src)
}

func runTUI(cmd *cobra.Command, src *timelineSource) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the configured one if unset
	if err := validateStyle(uiCfg.GlamourStyle); err != nil {
		uiCfg.GlamourStyle = style
	}
	uiCfg.Path = src.path
	uiCfg.MaxWidth = width
	uiCfg.EnableMouse = mouse
	uiCfg.FollowScroll = cfg.Playback.FollowScroll

	cacheDir, err := audioCacheDir()
	if err != nil {
		return err
	}
	session, err := narration.Open(cmd.Context(), cfg, cacheDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error("error closing narration session", "error", err)
		}
	}()

	if err := session.Orchestrator.LoadTracklist(src.timeline); err != nil {
		return fmt.Errorf("unable to load timeline: %w", err)
	}

	// Run Bubble Tea program
	if _, err := ui.NewProgram(uiCfg, session.Orchestrator, src.load).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	// settings shared by every command
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	pf.Bool("debug", false, "write debug output to the log file")
	pf.String("voice", "", "provider voice id")
	pf.String("language", "", "language code mapped to a voice, e.g. en-US")
	pf.String("provider", "", "speech provider: elevenlabs, google, remote or mock")
	pf.String("cache", "", "audio cache backend: memory, disk, sqlite or rest")

	// player
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to use the terminal width)")
	rootCmd.Flags().BoolP("follow", "f", false, "narrate whichever track is scrolled into view")
	rootCmd.Flags().BoolVar(&noAutoPlay, "no-autoplay", false, "stop after each track")
	rootCmd.Flags().BoolVar(&noAudio, "no-audio", false, "keep time without a sound device")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("debug", pf.Lookup("debug"))
	_ = viper.BindPFlag("voice.id", pf.Lookup("voice"))
	_ = viper.BindPFlag("voice.language", pf.Lookup("language"))
	_ = viper.BindPFlag("synthesis.provider", pf.Lookup("provider"))
	_ = viper.BindPFlag("cache.backend", pf.Lookup("cache"))
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("playback.follow_scroll", rootCmd.Flags().Lookup("follow"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd, tracksCmd, synthCmd, serveCmd, lsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narrator")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narrator")}, dirs...)
	}

	if c := os.Getenv("NARRATOR_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narrator")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrator")
	// NARRATOR_SYNTHESIS_ELEVENLABS_API_KEY sets synthesis.elevenlabs.api_key
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "narrator.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
