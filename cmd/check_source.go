package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gtriggiano/asn-lookup-service/pkg/rangeindex"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

var (
	checkSourceFile         string
	checkSourceShowShadowed bool
	checkSourceNormalize    bool
	checkSourceStrict       bool
)

// init registers the check-source subcommand and associated flags.
func init() {
	rootCmd.AddCommand(checkSourceCmd)
	checkSourceCmd.Flags().StringVar(&checkSourceFile, "file", "", "Path to the ranges file")
	checkSourceCmd.Flags().BoolVar(&checkSourceShowShadowed, "show-shadowed", false, "List records fully covered by later records")
	checkSourceCmd.Flags().BoolVar(&checkSourceNormalize, "normalize", false, "Print the valid records in canonical form")
	checkSourceCmd.Flags().BoolVar(&checkSourceStrict, "strict", false, "Fail when any line is malformed")
}

var checkSourceCmd = &cobra.Command{
	Use:   "check-source",
	Short: "Parse a ranges file and report malformed lines and index statistics",
	Long: "Parse a ranges file and report malformed lines and index statistics.\n\n" +
		"With --normalize the canonical records are written to stdout and the report to stderr.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if checkSourceFile == "" {
			return fmt.Errorf("flag \"file\" is required")
		}

		f, err := os.Open(checkSourceFile)
		if err != nil {
			return fmt.Errorf("could not open file %s: %w", checkSourceFile, err)
		}
		defer func() { _ = f.Close() }()

		// with --normalize stdout carries only the canonical records
		report := cmd.OutOrStdout()
		if checkSourceNormalize {
			report = cmd.ErrOrStderr()
		}

		return checkSource(cmd.OutOrStdout(), report, f, checkSourceShowShadowed, checkSourceNormalize, checkSourceStrict)
	},
}

func checkSource(out, report io.Writer, in io.Reader, showShadowed, normalize, strict bool) error {
	result, err := rangelist.ParseReader(in)
	for _, failure := range result.Failures {
		fmt.Fprintf(report, "malformed %s\n", failure)
	}
	if err != nil {
		return err
	}

	index, err := rangeindex.Build(result.Records)
	if err != nil {
		return err
	}

	stats := index.Stats()
	fmt.Fprintf(report, "lines: %d\n", result.Lines)
	fmt.Fprintf(report, "records: %d (ipv4 %d, ipv6 %d)\n", stats.Records, stats.IPv4Records, stats.IPv6Records)
	fmt.Fprintf(report, "segments: ipv4 %d, ipv6 %d\n", stats.IPv4Segments, stats.IPv6Segments)
	fmt.Fprintf(report, "malformed: %d\n", len(result.Failures))

	if showShadowed {
		shadowed := index.Shadowed()
		fmt.Fprintf(report, "shadowed: %d\n", len(shadowed))
		for _, record := range shadowed {
			fmt.Fprintf(report, "  line %d: %s %s %s\n", record.Line, record.RangeString(), record.ASN, record.ISP)
		}
	}

	if normalize {
		if err := rangelist.Write(out, result.Records); err != nil {
			return err
		}
	}

	if strict && len(result.Failures) > 0 {
		return fmt.Errorf("%d malformed lines", len(result.Failures))
	}
	return nil
}
