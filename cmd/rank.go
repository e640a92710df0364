package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spigell/pds-matcher/internal/ranking"
	"github.com/spigell/pds-matcher/internal/records"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	PromptShowTable    = "Show ranking table"
	PromptShowJSON     = "Show ranking as json"
	PromptShowReasons  = "Show reasoning"
	PromptResultToFile = "Dump ranking to file"
	PromptExit         = "Exit"
)

var errExit = errors.New("exit requested")

var rankPrompt = promptui.Select{
	Label: "Next?",
	Items: []string{PromptShowTable, PromptShowJSON, PromptShowReasons, PromptResultToFile, PromptExit},
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank a pool of applicants against a job opening",
	Run: func(cmd *cobra.Command, _ []string) {
		rank(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().StringP("batch", "b", "", "yaml or json document with a job and its applicants")
	rankCmd.Flags().StringP("output", "o", "table", "output format: table or json")
	rankCmd.Flags().BoolP("interactive", "i", false, "ask what to do with the ranking once it is ready")

	rankCmd.MarkFlagRequired("batch")
}

func rank(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the ranking", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	output, _ := cmd.Flags().GetString("output")
	output = strings.ToLower(strings.TrimSpace(output))
	if output != "table" && output != "json" {
		logger.Fatal("unsupported output format", zap.String("output", output))
	}

	path, _ := cmd.Flags().GetString("batch")
	batch, err := records.LoadBatch(path)
	if err != nil {
		logger.Fatal("loading a batch", zap.Error(err))
	}

	logger.Info("batch loaded",
		zap.String("job", batch.Job.ID),
		zap.Int("applicants", len(batch.Applicants)),
	)

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing engines", zap.Error(err))
	}
	defer rt.Close()

	run, err := rt.ranker.Rank(ctx, batch.Job, batch.Applicants)
	if err != nil {
		logger.Fatal("ranking failed", zap.Error(err))
	}

	logger.Info("ranking finished",
		zap.String("run_id", run.RunID),
		zap.Int("results", len(run.Results)),
	)

	if interactive, _ := cmd.Flags().GetBool("interactive"); !interactive {
		if err := writeRun(os.Stdout, run, output); err != nil {
			logger.Fatal("writing results", zap.Error(err))
		}
		return
	}

	for {
		_, action, err := rankPrompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(action, run, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(action string, run *ranking.Run, logger *zap.Logger) error {
	switch action {
	case PromptShowTable:
		return writeRun(os.Stdout, run, "table")
	case PromptShowJSON:
		return writeRun(os.Stdout, run, "json")
	case PromptShowReasons:
		for _, r := range run.Results {
			fmt.Printf("%d. %s: %s\n", r.Rank, r.ApplicantID, r.Reasoning)
		}
		return nil
	case PromptResultToFile:
		filename, err := dumpRunToTmpFile(run)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func writeRun(w io.Writer, run *ranking.Run, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "job: %s\trun: %s\n", run.JobID, run.RunID)
	fmt.Fprintln(tw, "RANK\tAPPLICANT\tSCORE\tEDUCATION\tEXPERIENCE\tSKILLS\tELIGIBILITY\tREVIEW")
	for _, r := range run.Results {
		review := ""
		if r.NeedsReview {
			review = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			r.Rank, r.ApplicantID, r.MatchScore,
			r.EducationScore, r.ExperienceScore, r.SkillsScore, r.EligibilityScore,
			review,
		)
	}
	return tw.Flush()
}

func dumpRunToTmpFile(run *ranking.Run) (string, error) {
	f, err := os.CreateTemp("", app+"-ranking-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := writeRun(f, run, "json"); err != nil {
		return "", err
	}
	return f.Name(), nil
}
