package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flulink/engine/internal/engine"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the user vector index",
}

var indexImportCmd = &cobra.Command{
	Use:   "import <users.json|->",
	Short: "Load users into the configured index",
	Long:  "Reads a JSON array of users. Users without an interestVector keep any stored vector.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexImport,
}

var (
	searchLimit  int
	searchVector string
)

var indexSearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Find the users nearest to a text or vector",
	Long:  "Embeds the text with the configured embedder, or uses --vector, and searches the index.",
	RunE:  runIndexSearch,
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored users as JSON",
	Args:  cobra.NoArgs,
	RunE:  runIndexList,
}

var indexGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one stored user as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexGet,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Remove users and their vectors from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndexDelete,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the index backend, user count and schema version",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

func init() {
	indexSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	indexSearchCmd.Flags().StringVar(&searchVector, "vector", "", "JSON array query vector")

	indexCmd.AddCommand(indexImportCmd)
	indexCmd.AddCommand(indexSearchCmd)
	indexCmd.AddCommand(indexListCmd)
	indexCmd.AddCommand(indexGetCmd)
	indexCmd.AddCommand(indexDeleteCmd)
	indexCmd.AddCommand(indexStatsCmd)
}

// openStorage opens the runtime and fails when the backend keeps no users.
func openStorage(cmd *cobra.Command) (*runtime, error) {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return nil, err
	}
	if rt.store == nil {
		rt.Close()
		return nil, fmt.Errorf("index backend %q has no storage; use sqlite or pgvector", rt.cfg.Index.Backend)
	}
	return rt, nil
}

func runIndexImport(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read users: %w", err)
	}
	var users []engine.User
	if err := json.Unmarshal(data, &users); err != nil {
		return engine.Wrap(engine.KindInvalidRequest, err, "invalid users json")
	}
	for i := range users {
		if err := engine.Validate(users[i]); err != nil {
			return fmt.Errorf("user %d: %w", i, err)
		}
	}

	rt, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.store.ImportUsers(cmd.Context(), users)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(os.Stderr, "imported %d users into %s\n", n, rt.location)
	return nil
}

func runIndexSearch(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "" && searchVector == "" {
		return fmt.Errorf("give query text or --vector")
	}

	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var query []float64
	if searchVector != "" {
		if err := json.Unmarshal([]byte(searchVector), &query); err != nil {
			return engine.Wrap(engine.KindInvalidRequest, err, "invalid --vector")
		}
	} else {
		query, err = rt.engine.Content.GenerateContentVector(ctx, text)
		if err != nil {
			return err
		}
	}

	results, err := rt.engine.Matching.SearchIndex(ctx, query, searchLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Distance, r.ID)
	}
	return nil
}

func runIndexList(cmd *cobra.Command, args []string) error {
	rt, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	users, err := rt.store.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []engine.User{}
	}
	return printJSON(cmd.OutOrStdout(), users)
}

func runIndexGet(cmd *cobra.Command, args []string) error {
	rt, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	u, err := rt.store.GetUser(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if u == nil {
		return engine.Errorf(engine.KindInvalidRequest, "user %q not found", args[0])
	}
	return printJSON(cmd.OutOrStdout(), u)
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	rt, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, id := range args {
		if err := rt.store.DeleteUser(cmd.Context(), id); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "deleted %d users from %s\n", len(args), rt.location)
	return nil
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	rt, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.store.CountUsers(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s (%s)\n", rt.cfg.Index.Backend, rt.location)
	fmt.Fprintf(out, "users: %d\n", n)
	if v, ok := rt.store.(versioned); ok {
		version, err := v.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema: %d\n", version)
	}
	return nil
}
