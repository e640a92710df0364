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

	"github.com/spigell/pds-matcher/internal/normalize"
	"github.com/spigell/pds-matcher/internal/taxonomy"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [value...]",
	Short: "Map free-text degree or eligibility values to canonical taxonomy keys",
	Run: func(cmd *cobra.Command, args []string) {
		normalizeValues(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	normalizeCmd.Flags().StringP("domain", "t", string(taxonomy.DomainDegree), "taxonomy domain: degree or eligibility")
	normalizeCmd.Flags().BoolP("interactive", "i", false, "pick the domain and type values one by one")
	normalizeCmd.Flags().Bool("split", false, "split degree requirements with alternatives before normalizing")
}

func normalizeValues(cmd *cobra.Command, args []string) {
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

	interactive, _ := cmd.Flags().GetBool("interactive")
	if !interactive && len(args) == 0 {
		logger.Fatal("nothing to normalize", zap.String("hint", "pass values as arguments or use --interactive"))
	}

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing engines", zap.Error(err))
	}
	defer rt.Close()

	if interactive {
		if err := normalizeInteractive(ctx, rt.normalizer, logger); err != nil && !errors.Is(err, errExit) {
			logger.Fatal("exiting", zap.Error(err))
		}
		return
	}

	name, _ := cmd.Flags().GetString("domain")
	domain, err := taxonomy.ParseDomain(name)
	if err != nil {
		logger.Fatal("parsing a domain", zap.Error(err))
	}

	values := args
	if split, _ := cmd.Flags().GetBool("split"); split && domain == taxonomy.DomainDegree {
		values = nil
		for _, arg := range args {
			values = append(values, normalize.SplitDegreeAlternatives(arg)...)
		}
	}

	results := make([]normalize.Result, 0, len(values))
	for _, value := range values {
		results = append(results, rt.normalizer.Normalize(ctx, domain, value))
	}

	if err := writeResults(os.Stdout, results); err != nil {
		logger.Fatal("writing results", zap.Error(err))
	}
}

func normalizeInteractive(ctx context.Context, engine *normalize.Engine, logger *zap.Logger) error {
	domains := promptui.Select{
		Label: "Domain",
		Items: []string{string(taxonomy.DomainDegree), string(taxonomy.DomainEligibility), PromptExit},
	}

	for {
		_, choice, err := domains.Run()
		if err != nil {
			return err
		}
		if choice == PromptExit {
			logger.Info("exiting", zap.String("reason", "got exit from prompt"))
			return errExit
		}

		domain, err := taxonomy.ParseDomain(choice)
		if err != nil {
			return err
		}

		if err := promptValues(ctx, engine, domain); err != nil {
			return err
		}
	}
}

// promptValues reads values until an empty line.
func promptValues(ctx context.Context, engine *normalize.Engine, domain taxonomy.Domain) error {
	input := promptui.Prompt{
		Label: fmt.Sprintf("%s (empty line to go back)", domain),
	}

	for {
		value, err := input.Run()
		if err != nil {
			return err
		}
		if strings.TrimSpace(value) == "" {
			return nil
		}

		if err := writeResults(os.Stdout, []normalize.Result{engine.Normalize(ctx, domain, value)}); err != nil {
			return err
		}
	}
}

func writeResults(w io.Writer, results []normalize.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
