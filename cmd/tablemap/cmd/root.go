package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tablemap",
	Short: "Rule-driven row transformation for spreadsheet data",
	Long: `tablemap transforms tabular data row by row using a mapping table of
short prefixed instructions instead of code.

Instruction surface:
  ColumnName                copy a source column
  constant:VALUE            fixed literal
  formula:=EXPR             spreadsheet formula template
  src[Column], self[Column] references inside expressions
  _filter: + eval:COND      row filters with == != > < >= <= and ||
  //                        comment rows are skipped`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tablemap.yaml", "run configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
