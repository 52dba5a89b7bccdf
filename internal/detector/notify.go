package detector

import (
	"bookcal/internal/model"
)

// NoticeKind is what the user should be shown.
type NoticeKind string

const (
	NoticeAnalyzing    NoticeKind = "analyzing"
	NoticeFound        NoticeKind = "found"
	NoticeNothingFound NoticeKind = "nothing_found"
	NoticeFailed       NoticeKind = "failed"
	NoticeDismissed    NoticeKind = "dismissed"
	NoticeExpired      NoticeKind = "expired"
)

// Notification is one user-visible indication from a detection cycle.
type Notification struct {
	Kind    NoticeKind
	CycleID uint64
	Page    model.PageContext
	Events  model.ParseResult
	Err     error
}

// Retryable reports whether the user should be offered a retry.
func (n Notification) Retryable() bool { return n.Kind == NoticeFailed }

// Notifier receives notifications. Notify must not block for long and must
// not call back into the detector synchronously.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
