package main

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Tnze/go-mc/nbt"
	"github.com/spf13/cobra"

	"github.com/StoreStation/AnvilCraft/pkg/region"
)

var regionCmd = &cobra.Command{
	Use:   "region",
	Short: "Inspect anvil region files",
}

var regionLsCmd = &cobra.Command{
	Use:   "ls <file.mca>",
	Short: "List the chunks stored in a region file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := region.Open(args[0], region.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer r.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "X\tZ\tOFFSET\tSECTORS\tMODIFIED")
		chunks := r.Chunks()
		for _, c := range chunks {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", c.X, c.Z, c.Offset, c.Sectors, c.Modified.UTC().Format(time.RFC3339))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d chunks, %d free sectors\n", len(chunks), r.FreeSectors())
		return nil
	},
}

var regionCatCmd = &cobra.Command{
	Use:   "cat <file.mca> <x> <z>",
	Short: "Print a chunk as stringified NBT",
	Long:  "Print the chunk at local coordinates x, z (0..31) of a region file as stringified NBT.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("x: %w", err)
		}
		z, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("z: %w", err)
		}

		r, err := region.Open(args[0], region.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer r.Close()

		data, err := r.ReadChunk(x, z)
		if err != nil {
			return err
		}
		var raw nbt.RawMessage
		if _, err := nbt.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
			return fmt.Errorf("decode chunk %d,%d: %w", x, z, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw.String())
		return nil
	},
}

func init() {
	regionCmd.AddCommand(regionLsCmd, regionCatCmd)
	rootCmd.AddCommand(regionCmd)
}
