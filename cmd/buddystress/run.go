package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/buddyalloc/internal/stress"
)

func runStress(cmd *cobra.Command) error {
	source, err := newSource(sourceKind, filePath)
	if err != nil {
		return err
	}

	runner := stress.Runner{
		Source: source,
		Logger: newLogger(cmd.ErrOrStderr(), verbose),
	}

	runCfg := cfg
	runCfg.CaptureMap = jsonOut

	report, err := runner.Run(cmd.Context(), runCfg)
	if err != nil {
		return err
	}

	if jsonOut {
		return printReportJSON(cmd.OutOrStdout(), runCfg, report)
	}

	printReport(cmd.OutOrStdout(), runCfg, report)
	return nil
}

func printReport(w io.Writer, cfg stress.Config, report stress.Report) {
	fmt.Fprintf(w, "Arena:            %d bytes (%s)\n", cfg.ArenaSize, sourceKind)
	fmt.Fprintf(w, "Cycles:           %d\n", report.Cycles)
	fmt.Fprintf(w, "Allocations:      %d\n", report.Allocations)
	fmt.Fprintf(w, "Bytes requested:  %d\n", report.BytesRequested)
	fmt.Fprintf(w, "Elapsed:          %s\n", report.Elapsed)

	peak := report.Peak
	if peak.AllocationCount > 0 {
		fmt.Fprintf(w, "Peak usage:       %d of %d bytes in %d blocks\n",
			peak.AllocationBytes, peak.ArenaBytes, peak.AllocationCount)
		fmt.Fprintf(w, "Peak block sizes: %d - %d\n", peak.AllocationMin, peak.AllocationMax)
		fmt.Fprintf(w, "Peak free blocks: %d (fragmentation %.2f)\n", peak.FreeBlockCount, peak.Fragmentation())
	}
}

func printReportJSON(w io.Writer, cfg stress.Config, report stress.Report) error {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("ArenaSize").Int(cfg.ArenaSize)
	obj.Name("Cycles").Int(report.Cycles)
	obj.Name("Allocations").Int(report.Allocations)
	obj.Name("BytesRequested").Int(report.BytesRequested)
	obj.Name("ElapsedNanoseconds").Int(int(report.Elapsed.Nanoseconds()))

	peak := obj.Name("Peak").Object()
	peak.Name("AllocationCount").Int(report.Peak.AllocationCount)
	peak.Name("AllocationBytes").Int(report.Peak.AllocationBytes)
	peak.Name("FreeBlockCount").Int(report.Peak.FreeBlockCount)
	peak.Name("Utilization").Float64(report.Peak.Utilization())
	peak.End()

	cumulative := obj.Name("Cumulative").Object()
	cumulative.Name("AllocationCount").Int(report.Cumulative.AllocationCount)
	cumulative.Name("AllocationBytes").Int(report.Cumulative.AllocationBytes)
	cumulative.End()

	if report.DetailedMap != "" {
		obj.Name("Allocator").Raw(json.RawMessage(report.DetailedMap))
	}
	obj.End()

	if err := writer.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, string(writer.Bytes()))
	return err
}
