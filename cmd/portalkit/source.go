package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit/internal/feed"
	"github.com/sideportal/portalkit/internal/store"
)

var (
	sourceAddName       string
	sourceAddIdentifier string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage remote package sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <url-or-domain>",
	Short: "Add a remote source",
	Long:  "Register a remote source feed. When the feed is unreachable or unparseable a placeholder record is stored instead of failing; adding a source that is already present is a no-op.",
	Example: `  portalkit source add https://repo.example.com/feed.json
  portalkit source add repo.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources in display order",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <identifier>",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRemove,
}

var sourceReorderCmd = &cobra.Command{
	Use:   "reorder <identifier>...",
	Short: "Reorder sources",
	Long:  "Assign display positions matching the given identifier sequence. The reorder is transactional: an unknown identifier leaves every position unchanged.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSourceReorder,
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceAddName, "name", "", "Display name hint used when the feed carries none")
	sourceAddCmd.Flags().StringVar(&sourceAddIdentifier, "identifier", "", "Identifier hint used when the feed carries none")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceRemoveCmd)
	sourceCmd.AddCommand(sourceReorderCmd)
}

// sourceFetcher adapts the feed client to the store's fetcher contract,
// attaching a per-source credential when one is stored.
func sourceFetcher(s *store.Store) store.FeedFetcher {
	client := &feed.Client{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
	return func(ctx context.Context, url string) (*store.FeedInfo, error) {
		if token, ok, err := s.Credential(ctx, "source."+url); err == nil && ok {
			client.Authorization = token
		}
		f, err := client.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		return &store.FeedInfo{Identifier: f.Identifier, Name: f.Name, IconURL: f.IconURL}, nil
	}
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := cmd.Context()
	if _, err := s.InitializeOrders(ctx); err != nil {
		return err
	}

	url := feed.NormalizeSourceURL(args[0])
	if err := s.AddSource(ctx, sourceFetcher(s), url, sourceAddName, sourceAddIdentifier); err != nil {
		return err
	}
	fmt.Printf("Added %s\n", url)
	return nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := cmd.Context()
	if _, err := s.InitializeOrders(ctx); err != nil {
		return err
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources")
		return nil
	}

	decorate := isatty.IsTerminal(os.Stdout.Fd())
	for _, src := range sources {
		name := src.Name
		if decorate {
			name = "\x1b[1m" + name + "\x1b[0m"
		}
		fmt.Printf("%2d  %s\n    %s  (%s)\n", src.SortOrder, name, src.URL, src.Identifier)
	}
	return nil
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.RemoveSource(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runSourceReorder(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := cmd.Context()
	if _, err := s.InitializeOrders(ctx); err != nil {
		return err
	}
	if err := s.Reorder(ctx, args); err != nil {
		return err
	}
	fmt.Println("Reordered")
	return nil
}
