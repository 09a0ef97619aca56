// Package notifier makes the robot speak alerts.
package notifier

import (
	"context"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

// Voice is the robot text-to-speech surface
type Voice interface {
	SetLanguage(ctx context.Context, language string) error
	SetVolume(ctx context.Context, volume float64) error
	Say(ctx context.Context, text string) error
}

// Config holds speech settings
type Config struct {
	Language string
	Volume   float64
}

// DefaultConfig speaks English at 80% volume
func DefaultConfig() Config {
	return Config{Language: "English", Volume: 0.8}
}

// Speaker announces messages. All failures are logged and swallowed.
type Speaker struct {
	voice Voice
	cfg   Config
}

// NewSpeaker creates a speaker; voice may be nil to disable speech
func NewSpeaker(voice Voice, cfg Config) *Speaker {
	return &Speaker{voice: voice, cfg: cfg}
}

// Announce speaks message and reports whether the robot accepted it
func (s *Speaker) Announce(ctx context.Context, message string) bool {
	if s.voice == nil {
		logger.Debug("Notifier", "No voice available, skipping: %s", message)
		return false
	}

	if s.cfg.Language != "" {
		if err := s.voice.SetLanguage(ctx, s.cfg.Language); err != nil {
			logger.Debug("Notifier", "Set language %s: %v", s.cfg.Language, err)
		}
	}
	if err := s.voice.SetVolume(ctx, s.cfg.Volume); err != nil {
		logger.Warn("Notifier", "Set volume: %v", err)
		return false
	}
	if err := s.voice.Say(ctx, message); err != nil {
		logger.Warn("Notifier", "Speech failed: %v", err)
		return false
	}

	logger.Info("Notifier", "NAO announced: %s", message)
	return true
}
