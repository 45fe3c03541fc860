package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/polytope"
)

var (
	centerRegion string
	centerMethod string
	centerWrite  bool
	centerIters  int
	centerPop    int
	centerSeed   int64
)

var centerCmd = &cobra.Command{
	Use:   "center",
	Short: "Compute the interior point of a region",
	Long: `Computes the Chebyshev centre of a region with a linear program (lp)
or estimates it with the mayfly optimizer (mayfly). With --write the
centre is stored in the region file.`,
	RunE: runCenter,
}

func init() {
	centerCmd.Flags().StringVar(&centerRegion, "region", "", "Region file, YAML or JSON (required)")
	centerCmd.Flags().StringVar(&centerMethod, "method", "lp", "Method: lp, mayfly")
	centerCmd.Flags().BoolVar(&centerWrite, "write", false, "Store the centre in the region file")
	centerCmd.Flags().IntVar(&centerIters, "iters", 200, "Mayfly iterations")
	centerCmd.Flags().IntVar(&centerPop, "pop", 30, "Mayfly population size")
	centerCmd.Flags().Int64Var(&centerSeed, "mayfly-seed", 42, "Mayfly random seed")

	centerCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(centerCmd)
}

func runCenter(cmd *cobra.Command, args []string) error {
	spec, err := polytope.LoadRegionSpec(centerRegion)
	if err != nil {
		return err
	}
	solver := opt.NewSimplex(0)

	// Building without a centre yields the Chebyshev centre.
	lpSpec := spec
	lpSpec.Center = nil
	region, err := lpSpec.Build(solver)
	if err != nil {
		return err
	}

	start := time.Now()
	center := region.Center()
	switch centerMethod {
	case "lp":
	case "mayfly":
		lower, upper, err := polytope.BoundingBox(region, solver)
		if err != nil {
			return err
		}
		optimizer := opt.NewMayfly(centerIters, centerPop, centerSeed)
		center, _, err = polytope.EstimateCenter(region, optimizer, lower, upper)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown method: %s", centerMethod)
	}
	radius := polytope.InscribedRadius(region, center)

	slog.Info("Computed center", "region", spec.Name, "method", centerMethod, "radius", radius, "elapsed", time.Since(start))
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Center: %s\n", formatVector(center))
	fmt.Fprintf(out, "Radius: %.6f\n", radius)

	if !centerWrite {
		return nil
	}
	spec.Center = center
	if err := polytope.SaveRegionSpec(centerRegion, spec); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", centerRegion)
	return nil
}
