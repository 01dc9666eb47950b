package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process <photo>",
	Short: "Run a single photo through the analysis pipeline",
	Long: `Runs one equipment photo through the full pipeline: screen, nameplate
extraction, equipment registry match, documentation search, and analysis.

Examples:
  # Identify a unit and get a general overview
  rivet process nameplate.jpg

  # Ask a specific troubleshooting question
  rivet process nameplate.jpg --query "what does fault code F0002 mean"

  # Machine-readable output
  rivet process nameplate.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.String("query", "", "troubleshooting question about the photographed unit")
	f.Bool("json", false, "print the full result as JSON")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	image, err := os.ReadFile(args[0])
	if err != nil {
		return eris.Wrapf(err, "process: read photo %s", args[0])
	}
	mediaType, err := photoMediaType(args[0])
	if err != nil {
		return err
	}

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.Migrate(ctx); err != nil {
		return err
	}

	query, _ := cmd.Flags().GetString("query")
	asJSON, _ := cmd.Flags().GetBool("json")

	result, err := env.orch.Process(ctx, pipeline.Request{
		Image:     image,
		MediaType: mediaType,
		Query:     query,
		SessionID: "cli",
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(cmd, result)
	return nil
}

func photoMediaType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".png":
		return "image/png", nil
	case ".webp":
		return "image/webp", nil
	default:
		return "", eris.Errorf("process: unsupported photo type %s (want jpg, png, or webp)", filepath.Ext(path))
	}
}

func printResult(cmd *cobra.Command, res *model.PipelineResult) {
	out := cmd.OutOrStdout()

	if res.Rejected {
		fmt.Fprintln(out, res.RejectionMessage)
		return
	}
	if res.Equipment != nil {
		fmt.Fprintf(out, "Equipment: %s %s", res.Equipment.Manufacturer, res.Equipment.Model)
		if res.Equipment.Serial != "" {
			fmt.Fprintf(out, " (s/n %s)", res.Equipment.Serial)
		}
		fmt.Fprintln(out)
	}
	if res.Validation != nil {
		fmt.Fprintf(out, "Needs confirmation (session %s):", res.Validation.ID)
		fmt.Fprintln(out)
		if res.Validation.Candidate.URL != "" {
			fmt.Fprintf(out, "  %s\n", res.Validation.Candidate.URL)
		}
		fmt.Fprintln(out, "Answer with: rivet validate", res.Validation.ID, "--confirm|--reject")
	}
	if res.Answer != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, res.Answer)
	}
	if res.Analyze != nil && res.Analyze.Analyze != nil {
		for _, c := range res.Analyze.Analyze.Citations {
			fmt.Fprintf(out, "  source: %s\n", c)
		}
	}
	if res.Note != "" {
		fmt.Fprintln(out, res.Note)
	}
	fmt.Fprintf(out, "\ncost $%.4f  latency %dms  cached=%v\n", res.TotalCostUSD, res.LatencyMS, res.FromCache)
}
