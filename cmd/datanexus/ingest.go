package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/smallnest/datanexus/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Preview the knowledge base documents",
	Long: `Introspects the database schema and loads the few-shot CSV, then
prints the documents that serve and chat ingest at startup. Use it to verify
what the analyst will retrieve from before running the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fewShot, _ := cmd.Flags().GetString("few-shot")

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		intro := ingest.NewSchemaIntrospector(pool, cfg.Database.SchemaName)
		schemaDocs, err := intro.FetchSchemaDocs(ctx)
		if err != nil {
			return fmt.Errorf("introspect schema: %w", err)
		}
		fmt.Printf("--- schema documents (%d) ---\n", len(schemaDocs))
		for _, doc := range schemaDocs {
			fmt.Println(doc)
			fmt.Println()
		}

		if fewShot != "" {
			examples, err := ingest.LoadFewShotExamples(fewShot)
			if err != nil {
				return err
			}
			fmt.Printf("--- few-shot examples (%d) ---\n", len(examples))
			for _, ex := range examples {
				fmt.Println(ex)
				fmt.Println()
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("few-shot", "", "Path to a question,sql CSV of few-shot examples")
	rootCmd.AddCommand(ingestCmd)
}
