// Command modelctl administers a model registry directory: listing,
// promotion, metadata repair, legacy migration, policies and local or
// remote scoring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/mcules/model-registry/internal/config"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/policy"
	"github.com/mcules/model-registry/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg config.Config
	log logr.Logger

	root       string
	legacyRoot string
	policiesDB string
	logLevel   int
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "modelctl",
		Short:         "Administer a versioned model registry",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if !cmd.Flags().Changed("root") {
				a.root = cfg.ModelRoot
			}
			if !cmd.Flags().Changed("legacy-root") {
				a.legacyRoot = cfg.LegacyRoot
			}
			if !cmd.Flags().Changed("policies-db") {
				a.policiesDB = cfg.PoliciesDBPath
			}
			a.log = logging.New(a.logLevel, true)
			cmd.SetContext(logr.NewContext(cmd.Context(), a.log))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.root, "root", "", "model registry root (default from MODEL_ROOT)")
	cmd.PersistentFlags().StringVar(&a.legacyRoot, "legacy-root", "", "directory with unversioned model files (default from LEGACY_ROOT)")
	cmd.PersistentFlags().StringVar(&a.policiesDB, "policies-db", "", "policy database path (default from POLICIES_DB_PATH)")
	cmd.PersistentFlags().IntVarP(&a.logLevel, "verbosity", "v", 0, "log verbosity (0-3)")

	cmd.AddCommand(
		a.listCmd(),
		a.versionsCmd(),
		a.promoteCmd(),
		a.setFeaturesCmd(),
		a.migrateCmd(),
		a.statusCmd(),
		a.scoreCmd(),
		a.policyCmd(),
		a.promotionsCmd(),
	)
	return cmd
}

// openStore opens the registry. With record set, promotions are written to
// the policy database's audit trail; the returned func closes it.
func (a *app) openStore(record bool) (*registry.Store, func(), error) {
	store, err := registry.Open(a.root, a.cfg.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	store.Log = a.log
	if !record {
		return store, func() {}, nil
	}
	ps, err := policy.Open(a.policiesDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open policy store: %w", err)
	}
	store.Recorder = ps
	return store, func() { _ = ps.Close() }, nil
}

func (a *app) openPolicies() (*policy.Store, error) {
	ps, err := policy.Open(a.policiesDB)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	return ps, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctxOf(cmd), d)
}
