package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	tablemap "github.com/vogtb/go-tablemap"
	"github.com/vogtb/go-tablemap/config"
	"github.com/vogtb/go-tablemap/xlsx"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the mapping table without processing any data rows",
	Long: `check parses every mapping rule against the source sheet's headers and
reports all bad rules at once. No data row is read or written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		wb, err := xlsx.Open(cfg.Workbook)
		if err != nil {
			return err
		}
		defer wb.Close()

		headers, _, err := wb.Source(cfg.SourceSheet).Read()
		if err != nil {
			return err
		}

		mapping, err := loadMapping(cfg, wb)
		if err != nil {
			return err
		}

		instructions, err := tablemap.ParseMappingTable(mapping, headers)
		if err != nil {
			return err
		}

		fmt.Printf("mapping ok: %d rules\n", len(instructions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
