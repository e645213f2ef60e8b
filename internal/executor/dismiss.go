package executor

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/dom"
)

// DismissOptions configures a Dismisser.
type DismissOptions struct {
	// ConfirmText is the caption of the button that closes the dialog.
	ConfirmText string
	Interval    time.Duration
	Logger      *zap.Logger
}

// Dismisser closes the confirmation dialogs the host raises after some
// writes, so a dictation run is not blocked waiting for a click.
type Dismisser struct {
	doc    dom.Document
	opts   DismissOptions
	logger *zap.Logger
}

// NewDismisser creates a Dismisser over doc.
func NewDismisser(doc dom.Document, opts DismissOptions) *Dismisser {
	if opts.ConfirmText == "" {
		opts.ConfirmText = "Aceptar"
	}
	if opts.Interval <= 0 {
		opts.Interval = 400 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dismisser{doc: doc, opts: opts, logger: opts.Logger}
}

// Run polls until ctx is done.
func (d *Dismisser) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.DismissOnce()
		}
	}
}

// Sweep polls up to attempts times and stops at the first dismissed
// dialog. It reports whether one was dismissed.
func (d *Dismisser) Sweep(ctx context.Context, attempts int) bool {
	for i := 0; i < attempts; i++ {
		if d.DismissOnce() {
			return true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.opts.Interval):
		}
	}
	return false
}

// DismissOnce clicks the confirm button of an open dialog and reports
// whether it did.
func (d *Dismisser) DismissOnce() bool {
	btn := d.find()
	if btn == nil || !btn.Visible() {
		return false
	}
	if err := btn.Click(); err != nil {
		d.logger.Debug("dismiss click failed", zap.Error(err))
		return false
	}
	d.logger.Info("dialog dismissed", zap.String("button", btn.Text()))
	return true
}

func (d *Dismisser) find() dom.Node {
	if btn := d.doc.Query(".swal2-confirm"); btn != nil {
		return btn
	}
	for _, sel := range []string{
		`[role="dialog"] button, .swal2-actions button, .modal-content button`,
		"button",
	} {
		for _, b := range d.doc.QueryAll(sel) {
			if strings.TrimSpace(b.Text()) == d.opts.ConfirmText && b.Visible() {
				return b
			}
		}
	}
	return nil
}
