// Package audio plays narration clips. Player decodes MP3 with go-mp3 and
// writes PCM to the process-wide oto/v3 context owned by SessionManager;
// NullPlayer follows the same clock without a sound device.
package audio
