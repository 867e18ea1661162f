package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"assetlibrary/internal/app"
	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func uuidArg(cctx *cli.Context, i int) (uuid.UUID, error) {
	id, err := uuid.Parse(cctx.Args().Get(i))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", cctx.Args().Get(i))
	}
	return id, nil
}

func scopeArg(cctx *cli.Context) (domain.Scope, error) {
	if err := requireArgs(cctx, 1, "<family-uuid>"); err != nil {
		return domain.Scope{}, err
	}
	id, err := uuidArg(cctx, 0)
	if err != nil {
		return domain.Scope{}, err
	}
	return domain.Scope{FamilyUUID: id, Variant: cctx.String(flagVariant.Name)}, nil
}

var publishCmd = &cli.Command{
	Name:      "publish",
	Usage:     "Publish a new version of an asset",
	ArgsUsage: "<family-name> <payload-file>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "asset type", Value: "mesh"},
		flagVariant,
		&cli.StringFlag{Name: "ext", Usage: "payload extension"},
		&cli.StringFlag{Name: "thumbnail", Usage: "thumbnail image file"},
		&cli.StringFlag{Name: "description", Usage: "family description"},
		&cli.StringFlag{Name: "status", Usage: "review status"},
		&cli.StringFlag{Name: "representation", Usage: "representation"},
		&cli.StringFlag{Name: "stats", Usage: "JSON object of payload statistics"},
	},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if err := requireArgs(cctx, 2, "<family-name> <payload-file>"); err != nil {
			return err
		}
		payload, err := os.Open(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		defer payload.Close()

		req := domain.PublishRequest{
			FamilyName:     cctx.Args().Get(0),
			AssetType:      cctx.String("type"),
			Variant:        cctx.String(flagVariant.Name),
			Extension:      cctx.String("ext"),
			Description:    cctx.String("description"),
			Status:         domain.Status(cctx.String("status")),
			Representation: domain.Representation(cctx.String("representation")),
			Payload:        payload,
			Actor:          cctx.String(flagActor.Name),
		}
		if raw := cctx.String("stats"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Stats); err != nil {
				return fmt.Errorf("stats must be a JSON object: %w", err)
			}
		}
		if path := cctx.String("thumbnail"); path != "" {
			thumbnail, err := os.Open(path)
			if err != nil {
				return err
			}
			defer thumbnail.Close()
			req.Thumbnail = thumbnail
		}

		v, err := a.Versions.Publish(cctx.Context, req)
		if err != nil {
			return err
		}
		return printJSON(v)
	}),
}

var versionsCmd = &cli.Command{
	Name:      "versions",
	Usage:     "List the versions of a family",
	ArgsUsage: "<family-uuid>",
	Flags: []cli.Flag{
		flagVariant,
		&cli.BoolFlag{Name: "all", Usage: "include retired versions"},
	},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		scope, err := scopeArg(cctx)
		if err != nil {
			return err
		}
		versions, err := a.Versions.ListVersions(cctx.Context, scope.FamilyUUID, scope.Variant, cctx.Bool("all"))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVARIANT\tVERSION\tTIER\tSTATUS\tLATEST\tRETIRED\tSIZE")
		for _, v := range versions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%t\t%d\n",
				v.ID, v.Variant, v.VersionLabel, v.Tier, v.Status, v.IsLatest, v.IsRetired, v.SizeBytes)
		}
		return tw.Flush()
	}),
}

var archiveCmd = &cli.Command{
	Name:      "archive",
	Usage:     "Move a superseded version to cold storage",
	ArgsUsage: "<version-id>",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if err := requireArgs(cctx, 1, "<version-id>"); err != nil {
			return err
		}
		id, err := uuidArg(cctx, 0)
		if err != nil {
			return err
		}
		v, err := a.Cold.Archive(cctx.Context, id)
		if err != nil {
			return err
		}
		return printJSON(v)
	}),
}

var promoteCmd = &cli.Command{
	Name:      "promote",
	Usage:     "Bring an archived version back to active storage",
	ArgsUsage: "<version-id>",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if err := requireArgs(cctx, 1, "<version-id>"); err != nil {
			return err
		}
		id, err := uuidArg(cctx, 0)
		if err != nil {
			return err
		}
		v, err := a.Cold.Promote(cctx.Context, id)
		if err != nil {
			return err
		}
		return printJSON(v)
	}),
}

var restoreAsCurrentCmd = &cli.Command{
	Name:      "restore-as-current",
	Usage:     "Publish a copy of an older version as the new current version",
	ArgsUsage: "<version-id>",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if err := requireArgs(cctx, 1, "<version-id>"); err != nil {
			return err
		}
		id, err := uuidArg(cctx, 0)
		if err != nil {
			return err
		}
		v, err := a.Versions.RestoreAsCurrent(cctx.Context, id, cctx.String(flagActor.Name))
		if err != nil {
			return err
		}
		return printJSON(v)
	}),
}

var retireCmd = &cli.Command{
	Name:      "retire",
	Usage:     "Retire a family or one variant",
	ArgsUsage: "<family-uuid>",
	Flags:     []cli.Flag{flagVariant},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		scope, err := scopeArg(cctx)
		if err != nil {
			return err
		}
		if err := a.Retire.Retire(cctx.Context, scope, cctx.String(flagActor.Name)); err != nil {
			return err
		}
		fmt.Printf("retired %s\n", scope)
		return nil
	}),
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Usage:     "Restore a retired family or variant",
	ArgsUsage: "<family-uuid>",
	Flags:     []cli.Flag{flagVariant},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		scope, err := scopeArg(cctx)
		if err != nil {
			return err
		}
		if err := a.Retire.Restore(cctx.Context, scope, cctx.String(flagActor.Name)); err != nil {
			return err
		}
		fmt.Printf("restored %s\n", scope)
		return nil
	}),
}

var purgeCmd = &cli.Command{
	Name:      "purge",
	Usage:     "Permanently delete a family or variant (standalone mode only)",
	ArgsUsage: "<family-uuid>",
	Flags:     []cli.Flag{flagVariant},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		scope, err := scopeArg(cctx)
		if err != nil {
			return err
		}
		if err := a.Retire.Purge(cctx.Context, scope, cctx.String(flagActor.Name)); err != nil {
			return err
		}
		fmt.Printf("purged %s\n", scope)
		return nil
	}),
}

var syncCmd = &cli.Command{
	Name:      "sync",
	Usage:     "Rewrite the stable reference files of a family",
	ArgsUsage: "<family-uuid>",
	Flags:     []cli.Flag{flagVariant},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		scope, err := scopeArg(cctx)
		if err != nil {
			return err
		}
		return a.Refs.Sync(cctx.Context, scope)
	}),
}

var reconcileCmd = &cli.Command{
	Name:  "reconcile",
	Usage: "Run one reconciliation pass over the library",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		report, err := a.Reconciler.Reconcile(cctx.Context)
		if report != nil {
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		return err
	}),
}

var backupCmd = &cli.Command{
	Name:    "backup",
	Aliases: []string{"mirror"},
	Usage:   "Upload archived versions to the offsite bucket",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if a.Mirror == nil {
			return apperr.Invalid("mirror", "no offsite bucket is configured (S3_BUCKET)")
		}
		report, err := a.Mirror.MirrorArchive(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Create the library root and bring the metadata schema up to date",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		fmt.Printf("schema is up to date (%s)\n", a.Config.Database.Driver)
		return nil
	}),
}

var usageCmd = &cli.Command{
	Name:  "usage",
	Usage: "Show bytes and versions per storage tier",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		info, err := a.Usage.UsageByTier(cctx.Context)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIER\tVERSIONS\tBYTES")
		for _, u := range info.Tiers {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", u.Tier, u.Versions, u.SizeBytes)
		}
		fmt.Fprintf(tw, "total\t\t%d\n", info.TotalBytes)
		return tw.Flush()
	}),
}

var modeCmd = &cli.Command{
	Name:      "mode",
	Usage:     "Show or change the operation mode",
	ArgsUsage: "[standalone|studio|pipeline]",
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		if cctx.NArg() == 1 {
			mode, ok := domain.ParseOperationMode(cctx.Args().First())
			if !ok {
				return apperr.Invalid("mode", "unknown operation mode %q", cctx.Args().First())
			}
			if err := a.Authority.SetMode(cctx.Context, mode); err != nil {
				return err
			}
		}
		mode, err := a.Authority.Mode(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Println(mode)
		return nil
	}),
}

var auditCmd = &cli.Command{
	Name:  "audit",
	Usage: "Show the retire/restore/purge history, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 50},
	},
	Action: withApp(func(cctx *cli.Context, a *app.App) error {
		records, err := a.Retire.History(cctx.Context, cctx.Int("limit"))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tSCOPE")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.Actor, r.Action, r.Scope)
		}
		return tw.Flush()
	}),
}
