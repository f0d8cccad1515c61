package synth

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultVoiceID is the narrator voice used when nothing else is
// configured.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// VoiceTable maps base language codes ("en", "es", ...) to voice ids.
type VoiceTable map[string]string

// DefaultVoiceTable returns the built-in language to voice mapping.
func DefaultVoiceTable() VoiceTable {
	return VoiceTable{
		"en": "21m00Tcm4TlvDq8ikWAM",
		"es": "ErXwobaYiN019PkySvjV",
		"fr": "EXAVITQu4vr4xnSDxMaL",
		"de": "TxGEqnHWrfWFTfGW9XjX",
		"it": "MF3mGyEYCl7XYWbV9V6O",
		"pt": "VR6AewLTigWG4xSOukaG",
	}
}

// Lookup finds the voice for a BCP 47 language code. Region and script are
// ignored: "en-GB" and "en" resolve to the same voice.
func (t VoiceTable) Lookup(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" || len(t) == 0 {
		return "", false
	}

	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()

	if id, ok := t[base.String()]; ok {
		return id, true
	}
	// tables written by hand sometimes use full tags
	id, ok := t[strings.ToLower(code)]
	return id, ok
}

// ResolveVoice picks the voice for a request: an explicit voice id wins,
// then the language mapping, then the fallback.
func ResolveVoice(req Request, table VoiceTable, fallback string) string {
	if v := strings.TrimSpace(req.VoiceID); v != "" {
		return v
	}
	if v, ok := table.Lookup(req.LanguageCode); ok {
		return v
	}
	return fallback
}
