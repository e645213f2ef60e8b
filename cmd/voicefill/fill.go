package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/v0xg/voicefill/internal/dom"
	"github.com/v0xg/voicefill/internal/executor"
	"github.com/v0xg/voicefill/internal/gifgen"
)

var (
	fillURL   string
	fillTrail string
)

func newFillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill <autofill.json>",
		Short: "Apply an autofill file to a live form",
		Long: `fill applies autofill instructions without the dictation backend. The
file is either an object of field id to value, or a list of
{"unique_key", "value"} items.`,
		Args: cobra.ExactArgs(1),
		RunE: runFill,
	}
	cmd.Flags().StringVar(&fillURL, "url", "", "Form URL (default: browser.url)")
	cmd.Flags().StringVar(&fillTrail, "trail", "", "Write a GIF with one frame per filled field")
	return cmd
}

func runFill(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	items, err := parseItems(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	ctx := cmd.Context()
	b, page, err := openHost(ctx, fillURL)
	if err != nil {
		return err
	}
	defer b.Close()

	scanner := newScanner(page)
	scanner.Scan()

	var trail *gifgen.Trail
	var onFilled func(string, dom.Node)
	if fillTrail != "" {
		trail = gifgen.NewTrail(page, 0, logger)
		onFilled = trail.Record
	}
	manip := newManipulator(scanner, onFilled)

	fmt.Printf("→ Filling %d fields... ", len(items))
	filled := manip.ApplyAutofill(ctx, items)
	manip.Wait()
	fmt.Printf("done (%d filled)\n", len(filled))
	if len(filled) > 0 {
		fmt.Printf("  %s\n", strings.Join(filled, ", "))
	}

	if d := newDismisser(page); d != nil && len(filled) > 0 {
		d.Sweep(ctx, 5)
	}

	if trail != nil && trail.Len() > 0 {
		fmt.Printf("→ Generating GIF (%d frames)... ", trail.Len())
		size, err := trail.Save(fillTrail, gifgen.Options{})
		if err != nil {
			fmt.Println("failed")
			return fmt.Errorf("GIF generation failed: %w", err)
		}
		fmt.Println("done")
		fmt.Printf("✓ Saved to %s (%.1f MB)\n", fillTrail, float64(size)/(1024*1024))
	}
	return nil
}

// parseItems accepts an id to value object or an item list.
func parseItems(data []byte) ([]executor.Item, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	if gjson.ParseBytes(data).IsArray() {
		var items []executor.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var m map[string]executor.Value
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return executor.ItemsFromMap(m), nil
}
