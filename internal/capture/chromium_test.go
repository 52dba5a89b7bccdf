package capture

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
)

func TestOnEventReportsMainFrameNavigations(t *testing.T) {
	w := &Watcher{}
	var got []string
	w.OnNavigate(func(url string) { got = append(got, url) })

	w.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://tickets.example.com/"}})
	// iframe navigations are ignored.
	w.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "ad", ParentID: "main", URL: "https://ads.example.com/"}})
	w.onEvent(&page.EventNavigatedWithinDocument{FrameID: "main", URL: "https://tickets.example.com/confirm"})
	// Same URL twice is one navigation.
	w.onEvent(&page.EventNavigatedWithinDocument{FrameID: "main", URL: "https://tickets.example.com/confirm"})
	w.onEvent(&page.EventLoadEventFired{})

	assert.Equal(t, []string{"https://tickets.example.com/", "https://tickets.example.com/confirm"}, got)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultSettle, o.Settle)
	assert.Equal(t, time.Duration(DefaultTimeoutSec)*time.Second, o.Timeout)
	assert.NotNil(t, o.Scanner)

	assert.Zero(t, Options{Settle: -1}.withDefaults().Settle)
	assert.Equal(t, 2*time.Second, Options{Settle: 2 * time.Second}.withDefaults().Settle)
}
