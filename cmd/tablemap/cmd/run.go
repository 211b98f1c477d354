package cmd

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	tablemap "github.com/vogtb/go-tablemap"
	"github.com/vogtb/go-tablemap/config"
	"github.com/vogtb/go-tablemap/xlsx"
)

var (
	csvPath      string
	workbookPath string
	outputPath   string
	sourceSheet  string
	outputSheet  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Transform the source sheet and write the output",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		logrus.WithField("config", cfg.String()).Debug("configuration loaded")

		wb, err := xlsx.Open(cfg.Workbook)
		if err != nil {
			return err
		}
		defer wb.Close()

		mapping, err := loadMapping(cfg, wb)
		if err != nil {
			return err
		}

		var sink tablemap.OutputSink
		if csvPath != "" {
			sink = &csvSink{path: csvPath}
		} else {
			sink = wb.Sink(cfg.OutputSheet)
		}

		pipe := tablemap.NewPipeline(wb.Sandbox())
		stats, err := pipe.Run(wb.Source(cfg.SourceSheet), mapping, sink)
		if err != nil {
			return err
		}

		if csvPath == "" {
			if err := wb.Save(cfg.Output); err != nil {
				return err
			}
		}

		fmt.Printf("%d rows read, %d kept, %d filtered\n",
			stats.RowsRead, stats.RowsKept, stats.RowsFiltered)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&csvPath, "csv", "", "write output as CSV to this path instead of a sheet")
	runCmd.Flags().StringVar(&workbookPath, "workbook", "", "workbook path, overrides the config file")
	runCmd.Flags().StringVar(&outputPath, "output", "", "output workbook path, overrides the config file")
	runCmd.Flags().StringVar(&sourceSheet, "source-sheet", "", "source sheet name, overrides the config file")
	runCmd.Flags().StringVar(&outputSheet, "output-sheet", "", "output sheet name, overrides the config file")
	rootCmd.AddCommand(runCmd)
}

// applyOverrides lets command-line flags win over config file values
func applyOverrides(cfg *config.RunConfig) {
	if workbookPath != "" {
		cfg.Workbook = workbookPath
	}
	if outputPath != "" {
		cfg.Output = outputPath
	}
	if sourceSheet != "" {
		cfg.SourceSheet = sourceSheet
	}
	if outputSheet != "" {
		cfg.OutputSheet = outputSheet
	}
}

func loadMapping(cfg *config.RunConfig, wb *xlsx.Workbook) ([]tablemap.MappingRule, error) {
	if cfg.MappingSheet != "" {
		return wb.MappingRules(cfg.MappingSheet)
	}
	return cfg.MappingRules(), nil
}

// csvSink writes the output table as CSV, header row first
type csvSink struct {
	path string
}

func (s *csvSink) Write(headers []string, rows [][]string) error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create %q: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
