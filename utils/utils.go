// Package utils provides helpers shared by the narrator commands.
package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/mitchellh/go-homedir"
)

// ExpandPath expands tilde and all environment variables from the given path.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}

// TimelineExtensions lists the file extensions narrator reads timelines from.
var TimelineExtensions = []string{".json", ".yaml", ".yml"}

// IsTimelineFile returns whether the filename has a timeline extension.
func IsTimelineFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, v := range TimelineExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// GlamourStyle returns a glamour.TermRendererOption based on the given style.
func GlamourStyle(style string) glamour.TermRendererOption {
	if style == styles.AutoStyle {
		return glamour.WithAutoStyle()
	}
	return glamour.WithStylePath(style)
}
