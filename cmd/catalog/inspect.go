package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-sif/catalog"
	"github.com/go-sif/catalog/selection"
	"github.com/spf13/cobra"
)

func newInspectCommand(flags *globalFlags) *cobra.Command {
	var head int
	cmd := &cobra.Command{
		Use:   "inspect <location>",
		Short: "Print the size, columns and attrs of a bigfile catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			store, err := openStore(args[0], &logger)
			if err != nil {
				return err
			}
			defer store.Shutdown(context.Background())
			cat, err := catalog.FromBigFile(cmd.Context(), store, &catalog.Options{Logger: &logger})
			if err != nil {
				return err
			}
			defer cat.Close()
			return inspect(cmd.Context(), cmd.OutOrStdout(), cat, head)
		},
	}
	cmd.Flags().IntVar(&head, "head", 0, "also print the first rows of every column")
	return cmd
}

func inspect(ctx context.Context, out io.Writer, cat *catalog.Catalog, head int) error {
	csize, err := cat.CSize(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\nrows: %d\n\n", cat, csize)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tDTYPE\tWIDTH\tKIND")
	hard := make(map[string]bool)
	for _, name := range cat.HardColumns() {
		hard[name] = true
	}
	for _, name := range cat.Columns() {
		col, err := cat.Get(name)
		if err != nil {
			return err
		}
		kind := "virtual"
		if hard[name] {
			kind = "hard"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, col.DType(), col.Width(), kind)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nattrs: %s\n", cat.Attrs())
	if head <= 0 {
		return nil
	}
	if head > cat.Size() {
		head = cat.Size()
	}
	first, err := cat.Slice(selection.Range(0, head, 1))
	if err != nil {
		return err
	}
	for _, name := range first.Columns() {
		col, err := first.Get(name)
		if err != nil {
			return err
		}
		buf, err := col.Compute(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s:\n%s\n", name, buf)
	}
	return nil
}
