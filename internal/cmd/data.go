package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage the learned data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all learned data as JSON",
	Long: `Export all learned data as JSON, to a file or stdout.

Examples:
  pscue data export backup.json
  pscue data export > backup.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDataExport,
}

var dataImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all learned data from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE:  runDataImport,
}

var dataClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all learned data",
	RunE:  runDataClear,
}

func init() {
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataImportCmd)
	dataCmd.AddCommand(dataClearCmd)
	rootCmd.AddCommand(dataCmd)
}

func runDataExport(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(args) == 0 {
		return eng.Export(os.Stdout)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := eng.Export(f); err != nil {
		return err
	}
	return f.Close()
}

func runDataImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Import(f); err != nil {
		return err
	}
	fmt.Println("imported")
	return nil
}

func runDataClear(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Clear(); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}
