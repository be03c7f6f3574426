package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gtriggiano/asn-lookup-service/pkg/asnaudit"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

var (
	auditSourceFile string
	auditSourceMMDB string
)

// init registers the audit-source subcommand and associated flags.
func init() {
	rootCmd.AddCommand(auditSourceCmd)
	auditSourceCmd.Flags().StringVar(&auditSourceFile, "file", "", "Path to the ranges file")
	auditSourceCmd.Flags().StringVar(&auditSourceMMDB, "mmdb", "", "Path to a MaxMind GeoLite2/GeoIP2 ASN database")
}

var auditSourceCmd = &cobra.Command{
	Use:   "audit-source",
	Short: "Compare the ASNs of a ranges file with a MaxMind ASN database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if auditSourceFile == "" {
			return fmt.Errorf("flag \"file\" is required")
		}
		if auditSourceMMDB == "" {
			return fmt.Errorf("flag \"mmdb\" is required")
		}

		data, err := os.ReadFile(auditSourceFile)
		if err != nil {
			return fmt.Errorf("could not read file %s: %w", auditSourceFile, err)
		}

		result, err := rangelist.Parse(string(data))
		if err != nil {
			return err
		}

		db, err := asnaudit.Open(auditSourceMMDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		return auditSource(cmd.OutOrStdout(), db, result.Records)
	},
}

func auditSource(out io.Writer, reader asnaudit.ASNReader, records []rangelist.Record) error {
	report, err := asnaudit.Audit(reader, records)
	if err != nil {
		return err
	}

	for _, finding := range report.Mismatched {
		fmt.Fprintf(out, "mismatch line %d: %s has %s, database says %s (%s)\n",
			finding.Record.Line,
			finding.Record.RangeString(),
			finding.Record.ASN,
			finding.DatabaseASN,
			finding.DatabaseOrganization,
		)
	}
	for _, finding := range report.Missing {
		fmt.Fprintf(out, "missing line %d: %s not in database\n", finding.Record.Line, finding.Record.RangeString())
	}

	fmt.Fprintf(out, "checked: %d, matched: %d, mismatched: %d, missing: %d\n",
		report.Checked, report.Matched, len(report.Mismatched), len(report.Missing))
	return nil
}
