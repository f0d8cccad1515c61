package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# style name or JSON path (default "auto")
style: "auto"
# mouse support
mouse: false
# word-wrap at width (0 uses the terminal width, up to 120)
width: 0
# verbose logging to the log file
debug: false

voice:
  # provider voice used when a timeline names no voice or mapped language
  id: "21m00Tcm4TlvDq8ikWAM"
  # language code mapped to a voice, e.g. "en-US"
  language: ""
  stability: 0.5
  similarity_boost: 0.75
  style: 0.0
  use_speaker_boost: true

synthesis:
  # elevenlabs, google, remote or mock
  provider: "elevenlabs"
  timeout: "15s"
  # how long a background cache write may take
  write_timeout: "30s"
  # speak narration text without markdown formatting
  strip_markdown: true
  elevenlabs:
    # api_key: "" (or NARRATOR_SYNTHESIS_ELEVENLABS_API_KEY)
    base_url: "https://api.elevenlabs.io"
    model_id: "eleven_multilingual_v2"
    output_format: "mp3_44100_128"
    requests_per_second: 2
  google:
    # credentials_file: "/path/to/service-account.json"
  remote:
    # a narrator serve instance
    # url: "http://127.0.0.1:8080"

cache:
  # memory, disk, sqlite or rest
  backend: "disk"
  # dir: "~/.cache/narrator/audio"
  memory_capacity: 33554432
  disk_capacity: 536870912
  # zstd level for the disk cache, 0 stores clips uncompressed
  compression_level: 1
  # url: "https://example.com/audio-cache"
  # token: ""

playback:
  volume: 1.0
  # continue with the next track when one finishes
  auto_play: true
  # start narrating whichever track is scrolled into view
  follow_scroll: false
  # progress reports older than this let the fallback clock take over
  stale_after: "1s"

audio:
  # false keeps time without a sound device
  device: true
  # 44100 or 48000
  sample_rate: 44100
  buffer_size: "100ms"

serve:
  addr: "127.0.0.1:8080"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the narrator config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narrator config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narrator config\nnarrator config --config path/to/narrator.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narrator", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
