package main

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/hallucifix/go-resilience/snapshot"
	"github.com/hallucifix/go-resilience/tui"
	"github.com/spf13/cobra"
)

func (a *app) openStore(cmd *cobra.Command) (snapshot.Store, string, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	store, err := cfg.Snapshot.Open(cmd.Context(), a.logger(cfg))
	if err != nil {
		return nil, "", err
	}
	if store == nil {
		return nil, "", errors.New("snapshots are disabled: set snapshot.driver")
	}
	return store, cfg.Snapshot.Name, nil
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect saved cache snapshots",
	}
	cmd.AddCommand(newSnapshotListCmd(a))
	cmd.AddCommand(newSnapshotShowCmd(a))
	cmd.AddCommand(newSnapshotDeleteCmd(a))
	return cmd
}

func newSnapshotListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				tui.ShowWarning(a.stdout, "no snapshots")
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{
					info.Name,
					humanize.Comma(int64(info.Entries)),
					humanize.Bytes(uint64(info.Size)),
					humanize.Time(info.SavedAt),
				})
			}
			tui.Table(a.stdout, []string{"Name", "Entries", "Size", "Saved"}, rows)
			return nil
		},
	}
}

func newSnapshotShowCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show the entries of a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, name, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			if len(args) > 0 {
				name = args[0]
			}

			entries, found, err := store.Load(cmd.Context(), name)
			if err != nil {
				return err
			}
			if !found {
				return errors.Newf("snapshot %q not found", name)
			}

			now := time.Now()
			rows := make([][]string, 0, min(len(entries), limit))
			for i, e := range entries {
				if limit > 0 && i >= limit {
					break
				}
				expires := humanize.Time(e.Entry.Timestamp.Add(e.Entry.TTL))
				if e.Entry.Expired(now) {
					expires = tui.Muted("expired")
				}
				rows = append(rows, []string{
					tui.MaxWidth(e.Key, 48),
					strings.Join(e.Entry.Tags, ","),
					humanize.Bytes(uint64(e.Entry.SizeBytes)),
					humanize.Comma(e.Entry.AccessCount),
					expires,
				})
			}
			tui.Table(a.stdout, []string{"Key", "Tags", "Size", "Hits", "Expires"}, rows)
			if limit > 0 && len(entries) > limit {
				tui.ShowWarning(a.stdout, "showing %d of %d entries", limit, len(entries))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show, 0 for all")
	return cmd
}

func newSnapshotDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.Newf("snapshot %q not found", args[0])
			}
			tui.ShowSuccess(a.stdout, "deleted snapshot %s", args[0])
			return nil
		},
	}
}
