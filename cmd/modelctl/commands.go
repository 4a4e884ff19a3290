package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/legacy"
	"github.com/mcules/model-registry/internal/registry"
	"github.com/mcules/model-registry/internal/rpc"
	"github.com/mcules/model-registry/internal/scoring"
	"github.com/mcules/model-registry/internal/status"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List families with their current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer done()
			families, err := store.ListFamilies()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tCURRENT\tVERSIONS")
			for _, f := range families {
				current, err := store.ResolvePointer(f, registry.Current)
				if err != nil {
					current = "-"
				}
				versions, _ := store.ListVersions(f)
				fmt.Fprintf(tw, "%s\t%s\t%d\n", f, current, len(versions))
			}
			return tw.Flush()
		},
	}
}

func (a *app) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions FAMILY",
		Short: "List a family's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer done()
			family := args[0]
			if !store.FamilyExists(family) {
				return fmt.Errorf("unknown family %q", family)
			}
			versions, err := store.ListVersions(family)
			if err != nil {
				return err
			}
			current, _ := store.ResolvePointer(family, registry.Current)
			for _, v := range versions {
				marker := " "
				if v == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, v)
			}
			return nil
		},
	}
}

func (a *app) promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote FAMILY VERSION",
		Short: "Point a family's current version at VERSION",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer done()
			if err := store.Promote(ctxOf(cmd), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func (a *app) setFeaturesCmd() *cobra.Command {
	var (
		version string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "set-features FAMILY COLUMN...",
		Short: "Publish a version whose metadata declares the given feature order",
		Long: "set-features copies the selected version's artifacts into a new version\n" +
			"with the given feature order. The new version is promoted only when the\n" +
			"selected version was current.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer done()
			change, err := store.SetFeatures(ctxOf(cmd), args[0], version, args[1:], dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s@%s features: %s -> %s\n", args[0], change.Source,
				formatCols(change.Previous), formatCols(change.Features))
			if dryRun {
				fmt.Fprintln(out, "dry run, nothing written")
				return nil
			}
			fmt.Fprintf(out, "published %s\n", change.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", registry.Current, "version to repair")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the change without writing")
	return cmd
}

func formatCols(cols []string) string {
	if len(cols) == 0 {
		return "(default)"
	}
	return "[" + strings.Join(cols, ",") + "]"
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Save every unversioned legacy model as a new promoted version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer done()
			r := legacy.NewResolver(a.legacyRoot)
			r.Files = a.cfg.LegacyFiles
			migrated, err := legacy.Migrate(ctxOf(cmd), store, r, nil)
			for _, m := range migrated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", m.Family, m.Version)
			}
			if err != nil {
				return err
			}
			if len(migrated) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no legacy model files found under %s, nothing to migrate\n", a.legacyRoot)
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status of every family as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer done()
			fams, err := status.NewReporter(store, a.cfg.DefaultConstraints).Status(ctxOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fams)
		},
	}
}

func (a *app) scoreCmd() *cobra.Command {
	var (
		version string
		payload string
		remote  string
	)
	cmd := &cobra.Command{
		Use:   "score FAMILY",
		Short: "Score a JSON feature payload locally or against a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec := json.NewDecoder(strings.NewReader(payload))
			dec.UseNumber()
			var p map[string]any
			if err := dec.Decode(&p); err != nil {
				return fmt.Errorf("--payload must be a JSON object: %w", err)
			}
			if remote != "" {
				return a.scoreRemote(cmd, remote, args[0], version, p)
			}

			store, done, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer done()
			svc := scoring.New(store)
			svc.Threshold = a.cfg.Threshold
			svc.Timeout = a.cfg.ScoreTimeout()
			svc.DefaultConstraints = a.cfg.DefaultConstraints
			svc.Log = a.log
			if a.cfg.LegacyFallback {
				r := legacy.NewResolver(a.legacyRoot)
				r.Files = a.cfg.LegacyFiles
				svc.Legacy = r
			}
			res, err := svc.ScoreTransaction(ctxOf(cmd), args[0], version, features.Payload(p))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"label":       res.Label,
				"probability": res.Probability,
				"version":     res.Version,
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", registry.Current, "version selector")
	cmd.Flags().StringVar(&payload, "payload", "{}", "feature payload as a JSON object")
	cmd.Flags().StringVar(&remote, "grpc", "", "score against the gRPC server at this address instead of locally")
	return cmd
}

func (a *app) scoreRemote(cmd *cobra.Command, addr, family, version string, p map[string]any) error {
	for k, v := range p {
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return fmt.Errorf("feature %q: %w", k, err)
			}
			p[k] = f
		}
	}
	feats, err := structpb.NewStruct(p)
	if err != nil {
		return err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"model":    structpb.NewStringValue(family),
		"version":  structpb.NewStringValue(version),
		"features": structpb.NewStructValue(feats),
	}}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx, cancel := contextWithTimeout(cmd, a.cfg.ScoreTimeout()+5*time.Second)
	defer cancel()

	out, err := rpc.NewClient(conn).Score(ctx, req)
	if err != nil {
		return err
	}
	b, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func (a *app) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Read and change per-family scoring policies",
	}

	get := &cobra.Command{
		Use:  "get FAMILY",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.openPolicies()
			if err != nil {
				return err
			}
			defer ps.Close()
			p, found, err := ps.GetPolicy(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no policy for family %q", args[0])
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	var (
		threshold      float64
		legacyDisabled bool
	)
	set := &cobra.Command{
		Use:  "set FAMILY",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.openPolicies()
			if err != nil {
				return err
			}
			defer ps.Close()
			p, _, err := ps.GetPolicy(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			p.Family = args[0]
			if cmd.Flags().Changed("threshold") {
				p.Threshold = threshold
			}
			if cmd.Flags().Changed("legacy-disabled") {
				p.LegacyDisabled = legacyDisabled
			}
			p.UpdatedAt = time.Now().UTC()
			if err := ps.UpsertPolicy(ctxOf(cmd), p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	set.Flags().Float64Var(&threshold, "threshold", 0, "decision threshold override, 0 to unset")
	set.Flags().BoolVar(&legacyDisabled, "legacy-disabled", false, "disable the legacy fallback for the family")

	del := &cobra.Command{
		Use:  "delete FAMILY",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.openPolicies()
			if err != nil {
				return err
			}
			defer ps.Close()
			return ps.DeletePolicy(ctxOf(cmd), args[0])
		},
	}

	cmd.AddCommand(get, set, del)
	return cmd
}

func (a *app) promotionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "promotions FAMILY",
		Short: "Show the promotion audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.openPolicies()
			if err != nil {
				return err
			}
			defer ps.Close()
			list, err := ps.ListPromotions(ctxOf(cmd), args[0], limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return errors.New("no promotions recorded")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tFROM\tTO")
			for _, p := range list {
				from := p.From
				if from == "" {
					from = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.PromotedAt.Format(time.RFC3339), from, p.To)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries, -1 for all")
	return cmd
}
