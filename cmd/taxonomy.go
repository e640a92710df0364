package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spigell/pds-matcher/internal/taxonomy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the degree and eligibility taxonomies",
}

var taxonomyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report aliases claimed by more than one canonical key",
	Run: func(_ *cobra.Command, _ []string) {
		checkTaxonomies()
	},
}

var taxonomyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the canonical entries of a taxonomy",
	Run: func(cmd *cobra.Command, _ []string) {
		listTaxonomy(cmd)
	},
}

func init() {
	rootCmd.AddCommand(taxonomyCmd)
	taxonomyCmd.AddCommand(taxonomyCheckCmd)
	taxonomyCmd.AddCommand(taxonomyListCmd)

	taxonomyListCmd.Flags().StringP("domain", "t", string(taxonomy.DomainDegree), "taxonomy domain: degree or eligibility")
}

func checkTaxonomies() {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// Loading leniently so every collision is reported instead of the first failing domain.
	lenient := TaxonomyConfig{}
	if config.Taxonomy != nil {
		lenient = *config.Taxonomy
	}
	lenient.Strict = false

	set, err := loadTaxonomies(&lenient)
	if err != nil {
		logger.Fatal("loading taxonomies", zap.Error(err))
	}

	if n := reportCollisions(os.Stdout, set); n > 0 {
		logger.Fatal("taxonomy check failed", zap.Int("collisions", n))
	}

	logger.Info("taxonomies are consistent",
		zap.Int("degrees", set.Degrees.Len()),
		zap.Int("eligibilities", set.Eligibilities.Len()),
	)
}

// reportCollisions writes every collision of both taxonomies to w and returns how many there were.
func reportCollisions(w io.Writer, set *taxonomy.Set) int {
	total := 0
	for _, tax := range []*taxonomy.Taxonomy{set.Degrees, set.Eligibilities} {
		for _, c := range tax.Collisions() {
			fmt.Fprintf(w, "%s: %s\n", tax.Domain(), c)
			total++
		}
	}
	return total
}

func listTaxonomy(cmd *cobra.Command) {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	name, _ := cmd.Flags().GetString("domain")
	domain, err := taxonomy.ParseDomain(name)
	if err != nil {
		logger.Fatal("parsing a domain", zap.Error(err))
	}

	set, err := loadTaxonomies(config.Taxonomy)
	if err != nil {
		logger.Fatal("loading taxonomies", zap.Error(err))
	}

	if err := writeEntries(os.Stdout, set.For(domain)); err != nil {
		logger.Fatal("writing entries", zap.Error(err))
	}
}

func writeEntries(w io.Writer, tax *taxonomy.Taxonomy) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCANONICAL\tLEVEL\tCATEGORY\tALIASES")
	for _, e := range tax.Entries() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Key, e.Canonical, e.Level, e.Category, strings.Join(e.Aliases, ", "))
	}
	return tw.Flush()
}
