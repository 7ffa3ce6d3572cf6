// Command ratsmirror imports municipal council information from OParl
// services into a local store with full-text search.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ratsmirror/internal/config"
	"ratsmirror/internal/files"
	"ratsmirror/internal/geo"
	"ratsmirror/internal/importer"
	"ratsmirror/internal/objectstore"
	"ratsmirror/internal/reconcile"
	"ratsmirror/internal/search"
	"ratsmirror/internal/store"
)

var errConfig = errors.New("configuration error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the most severe failure to the documented codes: 1
// configuration, 2 remote unreachable, 3 shrinkage guard, 4 all file
// downloads failed.
func exitCode(err error) int {
	switch {
	case errors.Is(err, importer.ErrRemoteUnreachable):
		return 2
	case errors.Is(err, reconcile.ErrShrinkage):
		return 3
	case errors.Is(err, files.ErrAllFilesFailed):
		return 4
	}
	return 1
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ratsmirror",
		Short:         "Mirror of a municipal council information system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(setupCmd(), importCmd(), updateCmd(), importFilesCmd(),
		importAmenitiesCmd(), fileCmd(), clearCmd(), searchIndexCmd())
	return cmd
}

// app bundles everything a command needs, built from the environment.
type app struct {
	cfg      *config.Config
	store    *store.Store
	importer *importer.Importer
	search   *search.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	logger := newLogger()
	slog.SetDefault(logger)

	st, err := store.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Prefix:    cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	searchClient, err := search.New(search.Config{
		Addresses: cfg.Search.Addresses,
		Username:  cfg.Search.Username,
		Password:  cfg.Search.Password,
		Prefix:    cfg.Search.Prefix,
		Language:  cfg.Language,
	}, logger)
	if err != nil {
		return nil, err
	}
	geocoder, err := buildGeocoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	overpassURL := cfg.Geocoder.OverpassURL
	if overpassURL == "" {
		overpassURL = geo.DefaultOverpassURL
	}

	im, err := importer.New(st, objects, searchClient, geocoder, geo.NewOverpass(overpassURL), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, importer: im, search: searchClient}, nil
}

func (a *app) close() { a.store.Close() }

func buildGeocoder(cfg *config.Config) (geo.Geocoder, error) {
	var inner geo.Geocoder
	switch cfg.Geocoder.Provider {
	case config.GeocoderOpenCage:
		oc, err := geo.NewOpenCage(cfg.Geocoder.OpenCageKey)
		if err != nil {
			return nil, err
		}
		inner = oc
	default:
		baseURL := cfg.Geocoder.NominatimURL
		if baseURL == "" {
			baseURL = geo.DefaultNominatimURL
		}
		inner = geo.NewNominatim(baseURL, cfg.Geocoder.UserAgent)
	}
	return geo.NewCached(inner, 0)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Provision database schema, storage buckets and search indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.Setup(cmd.Context())
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [body-url]",
		Short: "Run a full import of one body",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			target := a.cfg.TargetBodyURL
			if len(args) > 0 {
				target = args[0]
			}
			return a.importer.ImportBody(cmd.Context(), target)
		},
	}
}

func updateCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run an incremental import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			target := a.cfg.TargetBodyURL
			if body != "" {
				target = body
			}
			return a.importer.Update(cmd.Context(), target)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "body URL to update")
	return cmd
}

func importFilesCmd() *cobra.Command {
	var ids []int64
	cmd := &cobra.Command{
		Use:   "import-files",
		Short: "Re-run the file pipeline",
		Long: `Re-run the file pipeline for every pending file, or for an explicit
id list. Explicit ids bypass the manually-deleted filter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.ImportFiles(cmd.Context(), a.cfg.TargetBodyURL, ids)
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "file ids to process")
	return cmd
}

func importAmenitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-amenities <amenity>",
		Short: "Load named points of interest of one kind into the POI corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.ImportAmenities(cmd.Context(), a.cfg.TargetBodyURL, args[0])
		},
	}
}

func fileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Inspect and manage stored files",
	}

	rm := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Remove file blobs and mark the records manually deleted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.DeleteFiles(cmd.Context(), ids)
		},
	}

	restore := &cobra.Command{
		Use:   "restore <id>...",
		Short: "Lift the manual deletion mark",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.RestoreFiles(cmd.Context(), ids)
		},
	}

	link := &cobra.Command{
		Use:   "url <id>",
		Short: "Print a presigned download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			u, err := a.importer.FileLink(cmd.Context(), ids[0], 24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(u)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <id> [path]",
		Short: "Write the stored blob to a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			name, content, err := a.importer.FileContent(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			path := name
			if len(args) > 1 {
				path = args[1]
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	cmd.AddCommand(rm, restore, link, get)
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a file id: %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <url-prefix>",
		Short: "Purge all entities whose external id starts with the prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.importer.Clear(cmd.Context(), args[0])
		},
	}
}

func searchIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search-index",
		Short: "Manage the search indexes",
	}

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and recreate all indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.search.EnsureIndexes(cmd.Context(), true)
		},
	}

	analyze := &cobra.Command{
		Use:   "analyze <kind> <analyzer> <text>",
		Short: "Run an analyzer against a sample text",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			tokens, err := a.search.Analyze(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(tokens, "\n"))
			return nil
		},
	}

	cmd.AddCommand(rebuild, analyze)
	return cmd
}
