package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/v0xg/voicefill/internal/recorder"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := recorder.ListDevices()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tCHANNELS\tRATE")
			for _, d := range devices {
				mark := ""
				if d.Default {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\n", mark, d.Name, d.Channels, d.SampleRate)
			}
			return w.Flush()
		},
	}
}
