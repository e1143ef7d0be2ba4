package main

import (
	"fmt"
	"io"
	"strings"

	"slice2series/storage"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	var chunks bool
	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "List the dimensions, attributes and variables of datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opener := storage.NewSQLiteOpener()
			for i, path := range args {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				r, err := opener.Open(path)
				if err != nil {
					return err
				}
				err = describe(cmd.OutOrStdout(), r, chunks)
				r.Close()
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&chunks, "chunks", false, "Also list the stored chunk shapes of every variable")
	return cmd
}

func describe(w io.Writer, r storage.Reader, withChunks bool) error {
	fmt.Fprintf(w, "%s\n", r.Path())

	fmt.Fprintln(w, "dimensions:")
	for _, d := range r.Dimensions() {
		if d.Unlimited {
			fmt.Fprintf(w, "  %s = UNLIMITED (%d currently)\n", d.Name, d.Length)
			continue
		}
		fmt.Fprintf(w, "  %s = %d\n", d.Name, d.Length)
	}

	if attrs := r.Attributes(); len(attrs) > 0 {
		fmt.Fprintln(w, "attributes:")
		for _, at := range attrs {
			fmt.Fprintf(w, "  %s = %s\n", at.Name, at.Value)
		}
	}

	names := r.Variables()
	vars := make([]*storage.Variable, 0, len(names))
	width := 0
	for _, name := range names {
		v, err := r.Variable(name)
		if err != nil {
			return err
		}
		vars = append(vars, v)
		width = max(width, runewidth.StringWidth(name))
	}

	fmt.Fprintln(w, "variables:")
	for _, v := range vars {
		fmt.Fprintf(w, "  %s  %s(%s)  shape %v  chunks %v  %s\n",
			runewidth.FillRight(v.Name, width),
			v.DType,
			strings.Join(v.Dimensions, ", "),
			v.Shape,
			v.Chunks,
			humanize.IBytes(uint64(v.Bytes())),
		)
		for _, at := range v.Attributes {
			fmt.Fprintf(w, "  %s    :%s = %s\n", strings.Repeat(" ", width), at.Name, at.Value)
		}
		if withChunks {
			shapes, err := r.ChunkShapes(v.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s    %d stored chunks %v\n", strings.Repeat(" ", width), len(shapes), shapes)
		}
	}
	return nil
}
