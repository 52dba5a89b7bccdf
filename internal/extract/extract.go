// Package extract turns free-form page text into calendar events through a
// language-model backend.
package extract

import (
	"context"
	"errors"

	"bookcal/internal/model"
)

// ErrEmptyText is returned when there is nothing to extract from.
var ErrEmptyText = errors.New("extract: empty text")

// Service is the extraction collaborator. One call is one attempt; callers
// decide about retries.
type Service interface {
	Extract(ctx context.Context, text string, page model.PageContext) (model.ParseResult, error)
}

// Stage names a step reported on the progress channel.
type Stage string

const (
	StageCacheCheck  Stage = "cache_check"
	StageDownloading Stage = "downloading"
	StageParsing     Stage = "parsing"
	StageProcessing  Stage = "processing"
	StageComplete    Stage = "complete"
)

// Progress is an advisory notification; nobody acknowledges it.
type Progress struct {
	Percent int   `json:"progress"`
	Stage   Stage `json:"stage"`
}

// ProgressFunc receives progress notifications. It must not block.
type ProgressFunc func(Progress)

func (f ProgressFunc) report(percent int, stage Stage) {
	if f == nil {
		return
	}
	f(Progress{Percent: percent, Stage: stage})
}

// ChannelProgress adapts a channel into a ProgressFunc. Sends never block;
// notifications are dropped when the channel is full.
func ChannelProgress(ch chan<- Progress) ProgressFunc {
	return func(p Progress) {
		select {
		case ch <- p:
		default:
		}
	}
}
