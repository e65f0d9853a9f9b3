package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project a point onto a quad's horizontal ratio",
	Long: `Project a point onto a quad and print its horizontal ratio: 0 on the
left edge, 1 on the right edge, interpolated between the top and bottom
edges by the point's vertical position.`,
	RunE: runProject,
}

var insetCmd = &cobra.Command{
	Use:   "inset",
	Short: "Print the sub-quad of a quad between two horizontal ratios",
	RunE:  runInset,
}

var (
	geomQuad  string
	geomPoint string
	geomStart float64
	geomEnd   float64
)

func init() {
	RootCmd.AddCommand(projectCmd)
	RootCmd.AddCommand(insetCmd)

	for _, c := range []*cobra.Command{projectCmd, insetCmd} {
		c.Flags().StringVar(&geomQuad, "quad", "", `Quad "x,y x,y x,y x,y", top left then clockwise (required)`)
		if err := c.MarkFlagRequired("quad"); err != nil {
			slog.Error("Unable to mark quad as required", "err", err)
			os.Exit(1)
		}
	}

	projectCmd.Flags().StringVar(&geomPoint, "point", "", "Point x,y to project (required)")
	if err := projectCmd.MarkFlagRequired("point"); err != nil {
		slog.Error("Unable to mark point as required", "err", err)
		os.Exit(1)
	}

	insetCmd.Flags().Float64Var(&geomStart, "start", 0, "Start ratio")
	insetCmd.Flags().Float64Var(&geomEnd, "end", 1, "End ratio")
}

func runProject(cmd *cobra.Command, args []string) error {
	q, err := parseQuad(geomQuad)
	if err != nil {
		return err
	}
	p, err := parsePoint(geomPoint)
	if err != nil {
		return err
	}
	if q.Degenerate() {
		slog.Warn("Quad is degenerate", "quad", formatQuad(q))
	}
	fmt.Println(q.Ratio(p))
	return nil
}

func runInset(cmd *cobra.Command, args []string) error {
	q, err := parseQuad(geomQuad)
	if err != nil {
		return err
	}
	fmt.Println(formatQuad(q.Inset(geomStart, geomEnd)))
	return nil
}
