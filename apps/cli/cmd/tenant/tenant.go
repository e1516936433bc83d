package tenantcmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	sqlassets "github.com/tradecore-io/tradecore-saas/database"
	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/provisioning"
	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/repo"
	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/logging"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
	"github.com/tradecore-io/tradecore-saas/platform/go/secrets"
	"github.com/tradecore-io/tradecore-saas/platform/go/tenant"
)

// Command groups tenant-related operator helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create, delete, status, schema)",
	}

	cmd.AddCommand(
		createCommand(),
		listCommand(),
		deleteCommand(),
		statusCommand(),
		previewCommand(),
		initSchemaCommand(),
		verifyCommand(),
		permissionsCommand(),
	)
	return cmd
}

// connFlags are shared by every subcommand that touches the control plane.
type connFlags struct {
	databaseURL   string
	credentialKey string
	logLevel      string
}

func (f *connFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "control-plane connection string (defaults to DATABASE_URL)")
	c.Flags().StringVar(&f.credentialKey, "credential-key", os.Getenv("CREDENTIAL_KEY"), "hex AES-256 key for credential decryption (defaults to CREDENTIAL_KEY)")
	c.Flags().StringVar(&f.logLevel, "log-level", "warn", "zap log level for provisioning output")
}

// toolbox is the wired-up stack a subcommand runs against.
type toolbox struct {
	pool    *pgxpool.Pool
	service *service.Service
	close   func()
}

func (f *connFlags) build(ctx context.Context) (*toolbox, error) {
	if f.databaseURL == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}

	logger, err := logging.NewLogger(logging.Config{Component: "cli", Level: f.logLevel})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: f.databaseURL})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}

	if err := persistence.BootstrapControlPlane(ctx, pool); err != nil {
		persistence.ClosePool(pool)
		return nil, fmt.Errorf("bootstrap control plane: %w", err)
	}

	adminDSN, err := persistence.ParseDSN(f.databaseURL)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	var cipher *secrets.Cipher
	if f.credentialKey != "" {
		cipher, err = secrets.NewCipher(f.credentialKey)
		if err != nil {
			persistence.ClosePool(pool)
			return nil, fmt.Errorf("init credential cipher: %w", err)
		}
	}

	credStore := persistence.NewCredentialStore(pool, cipher)
	if err := credStore.EnsureInitialized(ctx); err != nil {
		persistence.ClosePool(pool)
		return nil, fmt.Errorf("init credential store: %w", err)
	}

	connCache := persistence.NewConnCache(logger.Named("conncache"))

	provisioner := provisioning.NewDBProvisioner(provisioning.Config{
		ControlPool: pool,
		Credentials: credStore,
		Connections: connCache,
		AdminDSN:    adminDSN,
		Applier:     provisioning.NewSQLApplier(sqlassets.TenantSchemaSQL, logger.Named("schema")),
		Logger:      logger.Named("provisioner"),
	})

	svc := service.New(service.Config{
		Repo:        repo.NewPostgresRepository(pool),
		Provisioner: provisioner,
		Credentials: credStore,
		Logger:      logger.Named("tenants"),
	})

	return &toolbox{
		pool:    pool,
		service: svc,
		close: func() {
			connCache.Shutdown()
			persistence.ClosePool(pool)
			_ = logger.Sync()
		},
	}, nil
}

func createCommand() *cobra.Command {
	var (
		flags      connFlags
		name       string
		email      string
		phone      string
		adminEmail string
		adminName  string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Onboard a tenant: registry row, database, role, schema, seed records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			input := service.CreateInput{Name: name, Email: email, Phone: phone}
			if adminEmail != "" {
				if adminName == "" {
					adminName = adminEmail
				}
				input.AdminUser = &service.UserSeed{
					ID:    uuid.New(),
					Email: adminEmail,
					Name:  adminName,
					Role:  "admin",
				}
			}

			t, err := box.service.Create(ctx, input)
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			fmt.Printf("tenant created\n  id:       %s\n  database: %s\n  status:   %s\n", t.ID, t.DatabaseName, t.Status)
			return nil
		},
	}

	flags.register(c)
	c.Flags().StringVar(&name, "name", "", "tenant display name (required)")
	c.Flags().StringVar(&email, "email", "", "tenant contact email (required)")
	c.Flags().StringVar(&phone, "phone", "", "tenant contact phone")
	c.Flags().StringVar(&adminEmail, "admin-email", "", "seed admin user email")
	c.Flags().StringVar(&adminName, "admin-name", "", "seed admin user name")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("email")
	return c
}

func listCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "list",
		Short: "List all tenants in the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			tenants, err := box.service.List(ctx)
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			for _, t := range tenants {
				fmt.Printf("%s  %-10s  %-30s  %s\n", t.ID, t.Status, t.Email, t.DatabaseName)
			}
			fmt.Printf("%d tenants\n", len(tenants))
			return nil
		},
	}

	flags.register(c)
	return c
}

func deleteCommand() *cobra.Command {
	var (
		flags connFlags
		force bool
		soft  bool
	)

	c := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant: drop the database and purge control-plane rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			result, err := box.service.SafeDelete(ctx, id, service.SafeDeleteOptions{
				SoftDelete: soft,
				Force:      force,
			})
			if err != nil {
				return fmt.Errorf("delete tenant: %w", err)
			}

			fmt.Println(result.Message)
			if !result.Deleted && !result.SoftDeleted {
				fmt.Printf("  data that would be removed: %d users, %d stores, %d products, %d sales\n",
					result.Counts.Users, result.Counts.Stores, result.Counts.Products, result.Counts.Sales)
			}
			return nil
		},
	}

	flags.register(c)
	c.Flags().BoolVar(&force, "force", false, "delete even when the tenant still holds data")
	c.Flags().BoolVar(&soft, "soft", false, "deactivate the tenant instead of deleting it")
	return c
}

func statusCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Report tenant database health (reachability, size, connections)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			report, err := box.service.GetStatus(ctx, id)
			if err != nil {
				return fmt.Errorf("tenant status: %w", err)
			}

			fmt.Printf("status:      %s\n", report.Status)
			fmt.Printf("database:    %s\n", report.DatabaseName)
			fmt.Printf("size:        %s\n", report.DatabaseSize)
			fmt.Printf("connections: %d\n", report.ConnectionCount)
			if report.Detail != "" {
				fmt.Printf("detail:      %s\n", report.Detail)
			}
			return nil
		},
	}

	flags.register(c)
	return c
}

func previewCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "preview <tenant-id>",
		Short: "Dry-run a tenant deletion: dependent row counts and blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			preview, err := box.service.PreviewDeletion(ctx, id)
			if err != nil {
				return fmt.Errorf("preview deletion: %w", err)
			}

			fmt.Printf("can delete: %t\n", preview.CanDelete)
			fmt.Printf("rows to remove: %d users, %d stores, %d products, %d sales\n",
				preview.DataToDelete.Users, preview.DataToDelete.Stores,
				preview.DataToDelete.Products, preview.DataToDelete.Sales)
			for _, w := range preview.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}

	flags.register(c)
	return c
}

func initSchemaCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "init-schema <tenant-id>",
		Short: "Apply the current tenant schema to an existing tenant database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			if err := box.service.InitializeSchema(ctx, id); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}
			fmt.Println("schema applied")
			return nil
		},
	}

	flags.register(c)
	return c
}

func verifyCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "verify <tenant-id>",
		Short: "Verify the tenant database carries the expected schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			report, err := box.service.VerifySchema(ctx, id)
			if err != nil {
				return fmt.Errorf("verify schema: %w", err)
			}

			fmt.Printf("has schema: %t (%d tables)\n", report.HasSchema, report.TableCount)
			if len(report.Tables) > 0 {
				fmt.Printf("tables: %s\n", strings.Join(report.Tables, ", "))
			}
			return nil
		},
	}

	flags.register(c)
	return c
}

func permissionsCommand() *cobra.Command {
	var flags connFlags

	c := &cobra.Command{
		Use:   "permissions <tenant-id>",
		Short: "Probe the tenant role's privileges inside its database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}

			box, err := flags.build(ctx)
			if err != nil {
				return err
			}
			defer box.close()

			report, err := box.service.TestPermissions(ctx, id)
			if err != nil {
				return fmt.Errorf("test permissions: %w", err)
			}

			fmt.Printf("create tables: %t\n", report.CanCreateTables)
			fmt.Printf("create enums:  %t\n", report.CanCreateEnums)
			fmt.Printf("schema grants: %s\n", strings.Join(report.SchemaPrivileges, ", "))
			return nil
		},
	}

	flags.register(c)
	return c
}
