package speech

import (
	"context"
	"errors"
	"strings"
)

const DefaultWordsPerMinute = 150.0

// ErrNoAudio reports that the synthesizer ran but produced no usable audio.
// Callers treat it as absence of audio, not as success.
var ErrNoAudio = errors.New("no audio produced")

type WordTiming struct {
	Word      string
	StartTime float64
	EndTime   float64
}

type Result struct {
	Audio    []byte
	Format   string
	Duration float64
	Timings  []WordTiming
}

type VoiceOptions struct {
	VoiceID    string
	Speed      float64
	Stability  float64
	Similarity float64
}

type Provider interface {
	Synthesize(ctx context.Context, text string, opts VoiceOptions) (*Result, error)
}

func EstimateTimingsFromDuration(text string, duration float64) []WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	avgWordDuration := duration / float64(len(words))
	timings := make([]WordTiming, len(words))
	currentTime := 0.0

	for i, word := range words {
		wordDuration := avgWordDuration * (0.8 + 0.4*float64(len(word))/5.0)
		timings[i] = WordTiming{
			Word:      word,
			StartTime: currentTime,
			EndTime:   currentTime + wordDuration,
		}
		currentTime += wordDuration
	}

	if currentTime > 0 {
		scale := duration / currentTime
		for i := range timings {
			timings[i].StartTime *= scale
			timings[i].EndTime *= scale
		}
	}

	return timings
}

func EstimateTimings(text string, audio []byte) []WordTiming {
	return EstimateTimingsFromDuration(text, EstimateAudioDuration(audio))
}

// EstimateAudioDuration assumes 128 kbps MP3.
func EstimateAudioDuration(audio []byte) float64 {
	bitrate := 128000.0
	return float64(len(audio)*8) / bitrate
}

// EstimateSpokenDuration is the reading time of text at wordsPerMinute.
func EstimateSpokenDuration(text string, wordsPerMinute float64) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	return float64(len(strings.Fields(text))) / wordsPerMinute * 60.0
}

func Duration(timings []WordTiming) float64 {
	if len(timings) == 0 {
		return 0
	}
	return timings[len(timings)-1].EndTime
}
