package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom/htmldom"
)

var (
	scanURL  string
	scanFile string
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the field inventory of a form as JSON",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	cmd.Flags().StringVar(&scanURL, "url", "", "Scan a live page")
	cmd.Flags().StringVar(&scanFile, "file", "", "Scan an HTML snapshot")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	if (scanURL == "") == (scanFile == "") {
		return errors.New("pass exactly one of --url or --file")
	}

	var fields []crawler.Field
	if scanFile != "" {
		f, err := os.Open(scanFile)
		if err != nil {
			return err
		}
		defer f.Close()
		doc, err := htmldom.Parse(f)
		if err != nil {
			return err
		}
		fields = newScanner(doc).Scan()
	} else {
		b, page, err := openHost(cmd.Context(), scanURL)
		if err != nil {
			return err
		}
		defer b.Close()
		fields = newScanner(page).Scan()
	}

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
