package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zsiec/playcore/internal/edl"
)

func newEDLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edl <file>",
		Short: "Print the cuts and scene markers of an edit decision list",
		Long: `Parse an MPlayer .edl or Comskip .txt file. Given a media file, the
list beside it is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, source, err := loadEDL(args[0])
			if err != nil {
				return err
			}
			return printEDL(cmd, source, list)
		},
	}
}

func loadEDL(path string) (*edl.List, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".edl", ".txt":
		list, err := edl.LoadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("failed to load %s: %w", path, err)
		}
		return list, path, nil
	}

	list, source, err := edl.LoadForMedia(path)
	if errors.Is(err, edl.ErrNoEDL) {
		return nil, "", fmt.Errorf("no edit list found for %s", path)
	}
	if err != nil {
		return nil, source, fmt.Errorf("failed to load %s: %w", source, err)
	}
	return list, source, nil
}

func printEDL(cmd *cobra.Command, source string, list *edl.List) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "# %s\n", source)
	fmt.Fprintln(w, "ACTION\tSTART\tEND\tLENGTH")
	for _, c := range list.Cuts() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Action, c.Start, c.End, c.End-c.Start)
	}
	if markers := list.SceneMarkers(); len(markers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SCENE\tAT")
		for i, m := range markers {
			fmt.Fprintf(w, "%d\t%s\n", i+1, m)
		}
	}
	fmt.Fprintf(w, "\ntotal cut time\t%s\n", list.TotalCutTime())
	return w.Flush()
}
