package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haricheung/swordbot/internal/parser"
	"github.com/haricheung/swordbot/internal/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Classify a captured reply and print the outcome as JSON",
	Long: `Read a captured chat reply from file (or stdin when omitted) and print what
the parser makes of it: the outcome, its fields and any profile found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

type classifyResult struct {
	Outcome types.Outcome          `json:"outcome"`
	Profile *types.ProfileSnapshot `json:"profile,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	text := string(data)
	res := classifyResult{Outcome: parser.Classify(text), Profile: parser.ExtractProfile(text)}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}
