package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the languages an engine recognizes",
	RunE:  runLanguages,
}

var languagesEngine string

func init() {
	RootCmd.AddCommand(languagesCmd)
	languagesCmd.Flags().StringVar(&languagesEngine, "engine", "", "Engine to query (default from settings)")
}

func runLanguages(cmd *cobra.Command, args []string) error {
	engine, err := engineFor(newRegistry(), languagesEngine)
	if err != nil {
		return err
	}

	langs := engineLanguages(cmd.Context(), engine, settings)
	if !langs.Available() {
		fmt.Printf("OCR is not available for %s: no supported languages\n", engine.Name())
		return nil
	}

	fmt.Printf("Engine:    %s\n", engine.Name())
	fmt.Printf("Default:   %s\n", langs.Default())
	fmt.Printf("Supported: %s\n", strings.Join(langs.Supported(), ", "))
	return nil
}
