package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/v0xg/voicefill/internal/dom"
)

// ErrHostNotDetected means the page never showed enough identified nodes
// to be the host form.
var ErrHostNotDetected = errors.New("browser: host form not detected")

// WaitForHost polls doc until at least minNodes elements carry attr,
// checking attempts times interval apart.
func WaitForHost(ctx context.Context, doc dom.Document, attr string, minNodes, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	sel := "[" + attr + "]"
	seen := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		seen = len(doc.QueryAll(sel))
		if seen >= minNodes {
			return nil
		}
	}
	return fmt.Errorf("%w: %d of %d %s nodes after %d attempts", ErrHostNotDetected, seen, minNodes, sel, attempts)
}
