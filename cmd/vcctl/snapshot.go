package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"voxelcast.ai/internal/persistence/snapshot"
)

var snapshotLayers bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <file>",
	Short: "Inspect a saved world snapshot offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !snapshotLayers {
			h, err := snapshot.ReadHeader(args[0])
			if err != nil {
				return err
			}
			printHeader(cmd.OutOrStdout(), h)
			return nil
		}
		snap, err := snapshot.Read(args[0])
		if err != nil {
			return err
		}
		printHeader(cmd.OutOrStdout(), snap.Header)
		printLayers(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotLayers, "layers", false, "decode chunks and print non-air cells per layer")
	rootCmd.AddCommand(snapshotCmd)
}

func printHeader(out io.Writer, h snapshot.Header) {
	fmt.Fprintf(out, "version=%d tick=%d chunks=%d palette=%s\n", h.Version, h.Tick, h.Chunks, h.PaletteDigest)
}

func printLayers(out io.Writer, snap snapshot.WorldV1) {
	cells := map[int]int{}
	for _, c := range snap.Chunks {
		for _, b := range c.Blocks {
			if b != 0 {
				cells[c.Y]++
			}
		}
	}
	ys := make([]int, 0, len(cells))
	for y := range cells {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	for _, y := range ys {
		fmt.Fprintf(out, "y=%d cells=%d\n", y, cells[y])
	}
}
