package deepgram

import (
	"context"
	"fmt"
	"slices"
)

type deepgramVoice string

const (
	VoiceAsteria deepgramVoice = "aura-2-asteria-en"
	VoiceThalia  deepgramVoice = "aura-2-thalia-en"
	VoiceOrion   deepgramVoice = "aura-2-orion-en"

	defaultVoice = VoiceAsteria
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceAsteria, VoiceThalia, VoiceOrion}
}

type TextToSpeechClient struct {
	voice deepgramVoice
}

func NewTextToSpeechClient(_ context.Context, voice deepgramVoice) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice}

	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	client.voice = voice

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}
