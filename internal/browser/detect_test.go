package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/v0xg/voicefill/internal/dom/htmldom"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWaitForHostFound(t *testing.T) {
	doc := htmldom.MustParse(`<div data-testid="a"></div><div data-testid="b"></div><div data-testid="c"></div>`)
	err := WaitForHost(context.Background(), doc, "data-testid", 3, 1, time.Millisecond)
	require.NoError(t, err)
}

func TestWaitForHostNotDetected(t *testing.T) {
	doc := htmldom.MustParse(`<div data-testid="a"></div>`)
	err := WaitForHost(context.Background(), doc, "data-testid", 3, 3, time.Millisecond)
	require.ErrorIs(t, err, ErrHostNotDetected)
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestWaitForHostAppearsLater(t *testing.T) {
	doc := htmldom.MustParse(`<body><div id="root"></div></body>`)

	done := make(chan error, 1)
	go func() {
		done <- WaitForHost(context.Background(), doc, "data-testid", 2, 50, 10*time.Millisecond)
	}()

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, doc.Append("#root", `<input data-testid="x"><input data-testid="y">`))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("host not detected after nodes were added")
	}
}

func TestWaitForHostCanceled(t *testing.T) {
	doc := htmldom.MustParse(`<div></div>`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForHost(ctx, doc, "data-testid", 1, 5, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
