package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	veclite "github.com/lucasastorian/veclite"
)

var (
	dbPath     string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:   "veclite",
	Short: "CLI front-end for a veclite database",
	Long:  `A command-line interface for querying and ingesting into a veclite retrieval database.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new veclite database directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		sch, err := loadSchema(schemaPath)
		if err != nil {
			return err
		}
		client, err := veclite.Create(context.Background(), sch, dbPath)
		if err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		defer client.Close()
		fmt.Printf("Database initialized at %s\n", dbPath)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <table> <json-file>",
	Short: "Insert rows from a JSON array file into table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, file := args[0], args[1]
		nonAtomic, _ := cmd.Flags().GetBool("non-atomic")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read rows file: %w", err)
		}
		var rows []map[string]any
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("parse rows file: %w", err)
		}

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := context.Background()
		h := client.Table(table)
		if nonAtomic {
			h = h.InsertNonAtomic(rows...)
		} else {
			h = h.Insert(rows...)
		}
		res, err := h.Execute(ctx)
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		fmt.Printf("Inserted %d rows into %q\n", len(res.Data), table)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <table>",
	Short: "Run a vector, keyword, or hybrid search against table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		text, _ := cmd.Flags().GetString("text")
		topk, _ := cmd.Flags().GetInt("top-k")
		mode, _ := cmd.Flags().GetString("mode")
		alpha, _ := cmd.Flags().GetFloat64("alpha")
		asJSON, _ := cmd.Flags().GetBool("json")
		if text == "" {
			return fmt.Errorf("--text is required")
		}

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		h := client.Table(table)
		switch mode {
		case "vector":
			h = h.VectorSearch(text, topk)
		case "keyword":
			h = h.KeywordSearch(text, topk)
		case "hybrid":
			h = h.HybridSearch(text, topk, alpha)
		default:
			return fmt.Errorf("unknown mode %q, want vector|keyword|hybrid", mode)
		}

		res, err := h.Execute(context.Background())
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if asJSON {
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		for i, row := range res.Data {
			score := 0.0
			if i < len(res.Scores) {
				score = res.Scores[i]
			}
			fmt.Printf("%d. %v (score: %.4f)\n", i+1, row, score)
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact <table> <column>",
	Short: "Reclaim tombstoned slots in a vector column's VectorFile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, column := args[0], args[1]

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		vf, ok := client.VectorFile(table, column)
		if !ok {
			return fmt.Errorf("no vector column %q.%q in this database", table, column)
		}
		if err := vf.Compact(context.Background()); err != nil {
			return fmt.Errorf("compact failed: %w", err)
		}
		fmt.Printf("Compacted %s.%s (%d live vectors)\n", table, column, vf.Len())
		return nil
	},
}

var retryOutboxCmd = &cobra.Command{
	Use:   "retry-outbox <table> <column>",
	Short: "Re-embed rows queued after a non-atomic ingest's embedder failures",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, column := args[0], args[1]

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		succeeded, remaining, err := client.RetryOutbox(context.Background(), table, column)
		if err != nil {
			return fmt.Errorf("retry outbox failed: %w", err)
		}
		fmt.Printf("Retried %s.%s: %d succeeded, %d still queued\n", table, column, succeeded, remaining)
		return nil
	},
}

func openClient() (*veclite.Client, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path not specified, use --db")
	}
	sch, err := loadSchema(schemaPath)
	if err != nil {
		return nil, err
	}
	client, err := veclite.Open(context.Background(), sch, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	registerHashEmbedders(client, sch)
	return client, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database directory path")
	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "schema.json", "Schema JSON file path")

	ingestCmd.Flags().Bool("non-atomic", false, "Commit rows one at a time, routing embed failures to the outbox")

	queryCmd.Flags().String("text", "", "Query text")
	queryCmd.Flags().Int("top-k", 10, "Number of results")
	queryCmd.Flags().String("mode", "vector", "Search mode: vector|keyword|hybrid")
	queryCmd.Flags().Float64("alpha", 0.5, "Hybrid fusion weight (1.0 = pure vector, 0.0 = pure keyword)")
	queryCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(initCmd, ingestCmd, queryCmd, compactCmd, retryOutboxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
