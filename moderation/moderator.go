// Package moderation classifies chat message text before broadcast. A cheap
// lexical blocklist runs first; anything that passes goes to Comprehend for
// sentiment and PII analysis. When the classifier is unreachable the message
// is blocked rather than let through unmoderated.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/comprehend"
	"github.com/aws/aws-sdk-go/service/comprehend/comprehendiface"
	"github.com/rs/zerolog"
)

type Outcome string

const (
	Allowed Outcome = "allowed"
	Blocked Outcome = "blocked"
)

const (
	// DefaultNegativeThreshold is the negative-sentiment confidence above
	// which a message is blocked.
	DefaultNegativeThreshold = 0.8

	// DefaultTimeout bounds each round of classifier calls.
	DefaultTimeout = 2 * time.Second

	languageCode = "en"
)

// Result is the retained audit outcome of a moderation check.
type Result struct {
	Outcome            Outcome
	Reason             string
	Sentiment          string
	NegativeConfidence float64
	PIIEntities        int
}

func (r Result) IsBlocked() bool { return r.Outcome == Blocked }

// Moderator combines the lexical blocklist with Comprehend sentiment and PII
// detection.
type Moderator struct {
	API       comprehendiface.ComprehendAPI
	Blocklist *Blocklist
	Logger    zerolog.Logger

	NegativeThreshold float64       // default DefaultNegativeThreshold
	Timeout           time.Duration // default DefaultTimeout
}

// Check classifies text. It never returns an error: a classifier failure or
// timeout is retried once and then reported as blocked, so unmoderated
// content cannot reach broadcast.
func (m *Moderator) Check(ctx context.Context, text string) Result {
	if m.Blocklist != nil {
		if word, ok := m.Blocklist.Match(text); ok {
			m.Logger.Debug().Str("word", word).Msg("blocklist hit")
			return Result{Outcome: Blocked, Reason: "contains profanity"}
		}
	}

	var (
		result Result
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		result, err = m.classify(ctx, text)
		if err == nil {
			return result
		}
	}

	m.Logger.Warn().Err(err).Msg("moderation unavailable, failing closed")
	return Result{Outcome: Blocked, Reason: "moderation unavailable", Sentiment: "UNKNOWN"}
}

func (m *Moderator) classify(ctx context.Context, text string) (Result, error) {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sentiment, err := m.API.DetectSentimentWithContext(ctx, &comprehend.DetectSentimentInput{
		LanguageCode: aws.String(languageCode),
		Text:         aws.String(text),
	})
	if err != nil {
		return Result{}, fmt.Errorf("detecting sentiment: %w", err)
	}

	pii, err := m.API.DetectPiiEntitiesWithContext(ctx, &comprehend.DetectPiiEntitiesInput{
		LanguageCode: aws.String(languageCode),
		Text:         aws.String(text),
	})
	if err != nil {
		return Result{}, fmt.Errorf("detecting pii entities: %w", err)
	}

	threshold := m.NegativeThreshold
	if threshold == 0 {
		threshold = DefaultNegativeThreshold
	}

	var negative float64
	if sentiment.SentimentScore != nil {
		negative = aws.Float64Value(sentiment.SentimentScore.Negative)
	}

	result := Result{
		Outcome:            Allowed,
		Reason:             "clean",
		Sentiment:          aws.StringValue(sentiment.Sentiment),
		NegativeConfidence: negative,
		PIIEntities:        len(pii.Entities),
	}

	switch {
	case result.Sentiment == comprehend.SentimentTypeNegative && negative > threshold:
		result.Outcome = Blocked
		result.Reason = "high negative sentiment"
	case len(pii.Entities) > 0:
		result.Outcome = Blocked
		result.Reason = "contains personal information"
	}

	return result, nil
}
