// Package cli implements canvasctl, a terminal front end for the Canvas
// connector admin page.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canvasadmin/canvasadmin/internal/adminpage"
	"github.com/canvasadmin/canvasadmin/internal/client"
	"github.com/canvasadmin/canvasadmin/internal/config"
	"github.com/canvasadmin/canvasadmin/internal/logging"
	"github.com/canvasadmin/canvasadmin/internal/sources"
	"github.com/canvasadmin/canvasadmin/internal/store"
)

const defaultAPIURL = "http://localhost:8080"

type options struct {
	apiURL   string
	token    string
	logLevel string
}

// Command returns the canvasctl root command.
func Command() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "canvasctl",
		Short:         "Manage the Canvas connector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("CANVASADMIN_URL", defaultAPIURL), "management API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CANVASADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		loginCommand(opts),
		statusCommand(opts),
		credentialCommand(opts),
		connectorCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) logger(w io.Writer) (*slog.Logger, error) {
	cfg := config.LoggingConfig{Level: slog.LevelWarn, Format: "text"}
	switch o.logLevel {
	case "debug":
		cfg.Level = slog.LevelDebug
	case "info":
		cfg.Level = slog.LevelInfo
	case "warn":
	case "error":
		cfg.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	return logging.NewWithWriter(cfg, w)
}

// page builds an admin page backed by the management API.
func (o *options) page(cmd *cobra.Command) (*adminpage.Page, func(), error) {
	if o.token == "" {
		return nil, nil, errors.New("no token: run canvasctl login or set CANVASADMIN_TOKEN")
	}
	logger, err := o.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cmd.Context(), store.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	api := client.New(o.apiURL, client.WithToken(o.token))
	page := adminpage.New(api, st, sources.NewCanvas(), logger)
	return page, func() { _ = st.Close() }, nil
}

func loginCommand(opts *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange the admin password for a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CANVASADMIN_PASSWORD")
			}
			token, err := client.New(opts.apiURL).Login(cmd.Context(), password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password (defaults to CANVASADMIN_PASSWORD)")
	return cmd
}

func statusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the credential and connector status",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, done, err := opts.page(cmd)
			if err != nil {
				return err
			}
			defer done()
			return printView(cmd.OutOrStdout(), page.Load(cmd.Context()))
		},
	}
}

func printView(w io.Writer, v adminpage.View) error {
	switch v.State {
	case adminpage.StateLoading:
		return errors.New("timed out loading page data")
	case adminpage.StateError:
		return errors.New(v.ErrorMessage)
	}

	fmt.Fprintf(w, "state: %s\n", v.State)
	if v.Credential != nil {
		fmt.Fprintf(w, "credential: %d (API key %s)\n", v.Credential.ID, v.CredentialKey())
	} else {
		fmt.Fprintln(w, "credential: none")
		fmt.Fprintln(w, "Please provide your API details first: canvasctl credential create --base-url URL --api-key KEY")
	}

	if v.ShowStatusTable {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tDOCS\tCREDENTIAL")
		for _, row := range v.Connectors {
			cred := v.RowCredentialKey(row)
			if cred == "" {
				cred = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", row.Connector.ID, row.Name, row.LastStatus, row.DocsIndexed, cred)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if v.ShowCreationPanel {
		fmt.Fprintf(w, "no connector yet: canvasctl connector create --credential-id %d\n", v.CreationCredentialID)
	}
	return nil
}

func credentialCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Short: "Manage the Canvas API credential"}

	var baseURL, apiKey string
	create := &cobra.Command{
		Use:   "create",
		Short: "Store Canvas API details",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, done, err := opts.page(cmd)
			if err != nil {
				return err
			}
			defer done()

			cred, err := page.CreateCredential(cmd.Context(), map[string]string{
				sources.CanvasBaseURLKey: baseURL,
				sources.CanvasAPIKeyKey:  apiKey,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credentials created successfully! id=%d\n", cred.ID)
			return nil
		},
	}
	create.Flags().StringVar(&baseURL, "base-url", "", "Canvas instance base URL")
	create.Flags().StringVar(&apiKey, "api-key", "", "Canvas API token")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			page, done, err := opts.page(cmd)
			if err != nil {
				return err
			}
			defer done()

			if err := page.DeleteCredential(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %d deleted\n", id)
			return nil
		},
	}

	cmd.AddCommand(create, del)
	return cmd
}

func connectorCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "connector", Short: "Manage the Canvas connector"}

	var credentialID int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the Canvas connector and link it to a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, done, err := opts.page(cmd)
			if err != nil {
				return err
			}
			defer done()

			if credentialID == 0 {
				v := page.Load(cmd.Context())
				if v.Credential == nil {
					return adminpage.ErrNoCredential
				}
				credentialID = v.Credential.ID
			}
			conn, err := page.CreateConnector(cmd.Context(), credentialID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully created connector! id=%d\n", conn.ID)
			return nil
		},
	}
	create.Flags().Int64Var(&credentialID, "credential-id", 0, "credential to link (defaults to the existing Canvas credential)")

	link := idCommand(opts, "link ID", "Link the Canvas credential to a connector", func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error {
		if err := p.LinkCredential(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(w, "connector %d linked\n", id)
		return nil
	})
	del := idCommand(opts, "delete ID", "Delete a connector", func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error {
		if err := p.DeleteConnector(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(w, "connector %d deleted\n", id)
		return nil
	})
	run := idCommand(opts, "run ID", "Index a connector now", func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error {
		n, err := p.RunNow(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "queued %d index run(s)\n", n)
		return nil
	})

	pause := idCommand(opts, "pause ID", "Stop scheduled indexing of a connector", func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error {
		if err := p.SetConnectorDisabled(ctx, id, true); err != nil {
			return err
		}
		fmt.Fprintf(w, "connector %d paused\n", id)
		return nil
	})
	resume := idCommand(opts, "resume ID", "Resume scheduled indexing of a connector", func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error {
		if err := p.SetConnectorDisabled(ctx, id, false); err != nil {
			return err
		}
		fmt.Fprintf(w, "connector %d resumed\n", id)
		return nil
	})

	cmd.AddCommand(create, link, del, run, pause, resume)
	return cmd
}

func idCommand(opts *options, use, short string, fn func(ctx context.Context, p *adminpage.Page, w io.Writer, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			page, done, err := opts.page(cmd)
			if err != nil {
				return err
			}
			defer done()
			return fn(cmd.Context(), page, cmd.OutOrStdout(), id)
		},
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
