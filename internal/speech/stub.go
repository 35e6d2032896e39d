package speech

import (
	"context"
	"fmt"
)

// StubProvider stands in for a real synthesizer in local runs. It never
// produces audio; the estimated reading time is reported in the error.
type StubProvider struct {
	wordsPerMinute float64
}

func NewStubProvider(wordsPerMinute float64) *StubProvider {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	return &StubProvider{wordsPerMinute: wordsPerMinute}
}

func (s *StubProvider) Synthesize(_ context.Context, text string, _ VoiceOptions) (*Result, error) {
	return nil, fmt.Errorf("stub synthesizer, %.1fs of speech skipped: %w",
		EstimateSpokenDuration(text, s.wordsPerMinute), ErrNoAudio)
}
