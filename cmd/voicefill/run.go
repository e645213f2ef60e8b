package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/voicefill/internal/executor"
	"github.com/v0xg/voicefill/internal/recorder"
	"github.com/v0xg/voicefill/internal/session"
	"github.com/v0xg/voicefill/internal/transport"
	"github.com/v0xg/voicefill/internal/watch"
)

var (
	runURL     string
	runDumpDir string
	runDevice  string
	runWatch   bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the form and dictate into it (Enter starts and stops)",
		Args:  cobra.NoArgs,
		RunE:  runDictation,
	}
	cmd.Flags().StringVar(&runURL, "url", "", "Form URL (default: browser.url)")
	cmd.Flags().StringVar(&runDumpDir, "dump-dir", "", "Write each session's audio as WAV into this directory")
	cmd.Flags().StringVar(&runDevice, "device", "", "Input device name (default: system default)")
	cmd.Flags().BoolVar(&runWatch, "watch-dialogs", false, "Keep closing confirmation dialogs for the whole run (default: dismiss.watch)")
	return cmd
}

func runDictation(cmd *cobra.Command, args []string) error {
	if runDumpDir != "" {
		cfg.Audio.DumpDir = runDumpDir
	}
	if runDevice != "" {
		cfg.Audio.Device = runDevice
	}
	if runWatch {
		cfg.Dismiss.Watch = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, page, err := openHost(ctx, runURL)
	if err != nil {
		return err
	}
	defer b.Close()

	scanner := newScanner(page)
	fields := scanner.Scan()
	fmt.Printf("→ Found %d fields\n", len(fields))

	manip := newManipulator(scanner, nil)
	dismisser := newDismisser(page)

	ctrl := session.New(scanner, manip,
		recorder.New(recorder.PortAudio{Device: cfg.Audio.Device}, logger),
		session.TransportDialer(cfg.Backend.URL, transport.Options{
			QueueSize: cfg.Backend.QueueSize,
			Logger:    logger,
		}),
		session.Options{
			ReadyTimeout: cfg.Backend.ReadyTimeout,
			DumpDir:      cfg.Audio.DumpDir,
			Dismisser:    dismisser,
			Logger:       logger,
			OnTranscript: func(text, interim string) {
				if interim != "" {
					fmt.Printf("\r… %s", interim)
				}
			},
			OnFilled: func(ids []string, sourceText string) {
				fmt.Printf("\r✓ %s\n", strings.Join(ids, ", "))
			},
			OnMessage: func(message string, isError bool) {
				if isError {
					fmt.Printf("\r⚠ %s\n", message)
				}
			},
		})
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	watcher := watch.New(page, func(changes int) {
		n := len(scanner.Scan())
		logger.Debug("form changed, rescanned", zap.Int("mutations", changes), zap.Int("fields", n))
	}, watch.Options{
		Window:    cfg.Debounce.Window,
		MaxBuffer: cfg.Debounce.MaxBuffer,
		Logger:    logger,
	})
	g.Go(func() error { return watcher.Run(gctx) })
	if dismisser != nil && cfg.Dismiss.Watch {
		g.Go(func() error { return dismisser.Run(gctx) })
	}

	lines := make(chan string)
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- strings.TrimSpace(in.Text())
		}
		close(lines)
	}()

	fmt.Println("→ Ready. Enter starts or stops dictation, n starts a new patient, q quits.")
	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				switch {
				case !ok || line == "q":
					return nil
				case line == "n":
					newPatient(ctrl, manip)
				default:
					toggle(gctx, ctrl)
				}
			}
		}
	})

	err = g.Wait()
	fmt.Println()
	return err
}

// newPatient forgets what was filled so the next session announces an
// empty form.
func newPatient(ctrl *session.Controller, manip *executor.Manipulator) {
	if ctrl.State() != session.StateIdle {
		fmt.Println("⚠ stop dictation before starting a new patient")
		return
	}
	manip.Reset()
	ctrl.Transcript().Reset()
	fmt.Println("→ New patient")
}

func toggle(ctx context.Context, ctrl *session.Controller) {
	if ctrl.State() == session.StateRecording {
		if err := ctrl.Stop(ctx); err != nil {
			logger.Warn("stop session", zap.Error(err))
		}
		fmt.Println("\r■ Stopped")
		return
	}

	fmt.Printf("→ Connecting... ")
	err := ctrl.Start(ctx)
	var acq *recorder.AcquireError
	switch {
	case err == nil:
		fmt.Println("recording")
	case errors.As(err, &acq):
		fmt.Printf("failed\n⚠ %s\n", acq.Error())
	case errors.Is(err, session.ErrStopped):
		fmt.Println("cancelled")
	case errors.Is(err, session.ErrNotReady):
		fmt.Printf("failed\n⚠ backend not ready at %s\n", cfg.Backend.URL)
	default:
		fmt.Printf("failed\n⚠ %v\n", err)
	}
}
