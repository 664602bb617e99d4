package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultVoiceID is the ElevenLabs "Rachel" voice.
const DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"

// synthesisTimeout bounds one synthesis call. A slow TTS provider must not
// hold up the turn longer than this.
const synthesisTimeout = 15 * time.Second

// ErrInterrupted is returned when the session's synthesis was interrupted
// between receiving audio and returning it.
var ErrInterrupted = fmt.Errorf("speech: synthesis interrupted")

// ElevenLabs implements Synthesizer against the ElevenLabs TTS API.
type ElevenLabs struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	httpClient *http.Client
	interrupts *Interrupts
}

// NewElevenLabs creates an ElevenLabs synthesizer. voiceID may be empty to
// use DefaultVoiceID.
func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabs{
		apiKey:     apiKey,
		voiceID:    voiceID,
		modelID:    "eleven_turbo_v2",
		baseURL:    "https://api.elevenlabs.io",
		httpClient: &http.Client{Timeout: synthesisTimeout},
		interrupts: NewInterrupts(),
	}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to base64-encoded MP3 audio. Starting a new
// synthesis clears any stale interrupt flag for the session; the flag is
// re-checked after the provider responds so an interrupt that arrived
// mid-synthesis discards the audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string, sessionID uuid.UUID) (string, error) {
	e.interrupts.Clear(sessionID)

	reqBody, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       e.modelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return "", fmt.Errorf("speech: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("speech: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("speech: read audio: %w", err)
	}

	if e.interrupts.IsSet(sessionID) {
		return "", ErrInterrupted
	}

	return base64.StdEncoding.EncodeToString(audio), nil
}

// Interrupt marks the session's in-flight synthesis for cancellation.
func (e *ElevenLabs) Interrupt(sessionID uuid.UUID) {
	e.interrupts.Set(sessionID)
}
