package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourStyle string `env:"GLAMOUR_STYLE"`
	EnableMouse  bool
	MaxWidth     uint

	// Timeline document path, watched for changes. Empty for documents
	// read from stdin.
	Path string

	FollowScroll bool

	// For debugging the UI
	DisableFileWatch bool `env:"NARRATOR_DISABLE_FILE_WATCH"`
	GlamourEnabled   bool `env:"NARRATOR_ENABLE_GLAMOUR" envDefault:"true"`
}
