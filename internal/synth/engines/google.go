package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/dgnsrekt/narrator/internal/synth"
)

// GoogleDefaultVoice is used when the configured voice isn't a Google voice
// name.
const GoogleDefaultVoice = "en-US-Neural2-F"

type synthesizeFunc func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// Google synthesizes speech with Google Cloud Text-to-Speech. Voice ids are
// Google voice names such as "en-GB-Neural2-B"; the language code is taken
// from the name.
type Google struct {
	synthesize synthesizeFunc
	close      func() error
}

// NewGoogle dials the Text-to-Speech API. An empty credentialsFile uses
// application default credentials.
func NewGoogle(ctx context.Context, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}
	return &Google{
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
			return client.SynthesizeSpeech(ctx, req)
		},
		close: client.Close,
	}, nil
}

// Name implements synth.Provider.
func (g *Google) Name() string { return "google" }

// Stream implements synth.Provider. The API is unary, so the whole clip is
// returned as one buffer.
func (g *Google) Stream(ctx context.Context, text, voiceID string, settings synth.VoiceSettings) (io.ReadCloser, error) {
	voice := googleVoice(voiceID)

	resp, err := g.synthesize(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: googleLanguage(voice),
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_MP3,
			SampleRateHertz: 44100,
			// Chirp voices reject pitch and rate tuning; the boost flag maps to
			// a small gain for the rest
			VolumeGainDb:    speakerBoostGain(voice, settings),
		},
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(resp.GetAudioContent())), nil
}

// Close releases the gRPC connection.
func (g *Google) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// googleVoice keeps names shaped like "xx-YY-Family-V" and replaces
// anything else (an ElevenLabs id from a shared config, say) with the
// default.
func googleVoice(id string) string {
	if parts := strings.Split(id, "-"); len(parts) >= 3 {
		return id
	}
	return GoogleDefaultVoice
}

func googleLanguage(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	return parts[0] + "-" + parts[1]
}

func speakerBoostGain(voice string, s synth.VoiceSettings) float64 {
	if !s.UseSpeakerBoost || strings.Contains(strings.ToLower(voice), "chirp") {
		return 0
	}
	return 2
}
