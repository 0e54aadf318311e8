package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigman78/waycms/internal/backup"
	"github.com/sigman78/waycms/internal/config"
	"github.com/sigman78/waycms/internal/tenancy"
)

var (
	projectFlag string
	labelFlag   string
	pruneFlag   bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup of a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, mgr, closeFn, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		b, err := mgr.Create(cmd.Context(), labelFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d bytes)\n", b.Name, b.Size)
		if pruneFlag {
			removed, err := mgr.Prune(retention(cfg))
			if err != nil {
				return err
			}
			for _, name := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", name)
			}
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups of a project, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, mgr, closeFn, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		list, err := mgr.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCREATED\tSIZE")
		for _, b := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", b.Name, b.Created.Local().Format("2006-01-02 15:04:05"), b.Size)
		}
		return tw.Flush()
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Replace a project with the content of a backup",
	Long:  "restore takes a safety backup labelled pre-restore, empties the project and unpacks the named backup into it.",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, mgr, closeFn, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		safety, err := mgr.Restore(cmd.Context(), args[0])
		if safety != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "safety backup %s\n", safety.Name)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{backupCmd, backupListCmd, restoreCmd} {
		c.Flags().StringVarP(&projectFlag, "project", "p", "", "project slug (multi-tenant mode)")
	}
	backupCmd.Flags().StringVar(&labelFlag, "label", "manual", "label appended to the backup name")
	backupCmd.Flags().BoolVar(&pruneFlag, "prune", false, "apply the retention policy afterwards")
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(backupCmd, restoreCmd)
}

// openManager returns the backup manager of the selected project with
// progress bars on stderr.
func openManager(ctx context.Context) (*config.Config, *backup.Manager, func(), error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	proj, closeFn, err := openProject(ctx, cfg, projectFlag)
	if err != nil {
		return nil, nil, nil, err
	}
	mgr := &backup.Manager{
		Dir:      proj.BackupDir,
		Root:     proj.Root,
		Logger:   logger,
		Progress: backup.NewProgress,
	}
	return cfg, mgr, closeFn, nil
}

func openProject(ctx context.Context, cfg *config.Config, slug string) (*tenancy.Project, func(), error) {
	if !cfg.Multi() {
		if slug != "" {
			return nil, nil, &usageError{err: errors.New("--project is only used in multi-tenant mode")}
		}
		root, err := singleRoot(cfg)
		if err != nil {
			return nil, nil, err
		}
		p, err := (&tenancy.Single{Root: root, BackupDir: cfg.BackupDir()}).Resolve(ctx, nil)
		return p, func() {}, err
	}
	if slug == "" {
		return nil, nil, &usageError{err: errors.New("--project is required in multi-tenant mode")}
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m := &tenancy.Multi{Store: st, BaseDir: cfg.ProjectsDir, BackupDir: cfg.BackupDir()}
	p, err := m.Open(ctx, slug)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return p, func() { _ = st.Close() }, nil
}
