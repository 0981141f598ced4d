// Package progress renders transfer engine events as console progress bars.
// It is the CLI counterpart of the GUI's transfers panel: same event feed,
// different presentation.
package progress

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/ferryfm/ferry/internal/events"
)

// Reporter follows one transfer on the event bus and renders its progress.
type Reporter struct {
	bus *events.EventBus
	ch  <-chan events.Event
	bar *progressbar.ProgressBar
}

// NewReporter creates a reporter attached to the engine's event bus. The
// subscription is taken here, not in Wait, so a transfer submitted between
// construction and Wait cannot finish unobserved.
func NewReporter(bus *events.EventBus) *Reporter {
	return &Reporter{bus: bus, ch: bus.SubscribeAll()}
}

// Wait renders progress for the transfer with the given ID until it reaches
// a terminal state. Returns nil on completion, an error describing the
// failure, or an error noting cancellation.
func (r *Reporter) Wait(id string) error {
	defer r.bus.UnsubscribeAll(r.ch)

	for ev := range r.ch {
		te, ok := ev.(*events.TransferEvent)
		if !ok || te.TransferID != id {
			continue
		}

		switch te.Type() {
		case events.EventTransferProgress:
			r.update(te)
		case events.EventTransferCompleted:
			r.update(te)
			r.finish()
			return nil
		case events.EventTransferFailed:
			r.finish()
			return errors.New(te.Error)
		case events.EventTransferCancelled:
			r.finish()
			return errors.New("transfer cancelled")
		}
	}
	return errors.New("event bus closed before transfer finished")
}

func (r *Reporter) update(te *events.TransferEvent) {
	if r.bar == nil {
		if te.BytesTotal <= 0 {
			return
		}
		r.bar = progressbar.NewOptions64(te.BytesTotal,
			progressbar.OptionSetDescription(te.Kind),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	_ = r.bar.Set64(te.BytesDone)
}

func (r *Reporter) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}
