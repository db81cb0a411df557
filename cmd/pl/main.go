package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/app"
	"playline/internal/capability"
	"playline/internal/config"
	"playline/internal/domain"
	"playline/internal/repo"
	"playline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Playline CLI",
	Long: `Playline runs declarative playbooks against typed resources.
Core concepts:
- Workspace: the directory holding playline.yml, the library/ of YAML
  definitions, and the .playline journal database.
- Playbooks: ordered steps; each step names a method, may require
  resources, and feeds its outputs into the next step's inputs.
- Resources: definitions describe classes of allocatable things through
  characteristics (with inheritance via extends); instances back them.
- Capabilities: named units of functionality served by providers; the
  resolver matches requirements to providers at initialization.
- Execution chain: each step tries algorithmic, then AI, then human
  strategies per policy, with retries and fallback on failure.
- Journal: every lifecycle change lands in the event log, view with
  'pl log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(playbookCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(reservationCmd())
	rootCmd.AddCommand(capabilityCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Writes a default playline.yml and creates the library directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", cfgPath)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(workspace, "library"), 0o755); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace in %s\n", workspace)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func playbookCmd() *cobra.Command {
	pb := &cobra.Command{
		Use:   "playbook",
		Short: "Inspect playbooks",
	}
	pb.AddCommand(playbookListCmd())
	pb.AddCommand(playbookShowCmd())
	return pb
}

func playbookListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List playbooks in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				names, err := a.Library.ListPlaybooks()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if names == nil {
						names = []string{}
					}
					return printJSON(names)
				}
				for _, name := range names {
					fmt.Println(name)
				}
				return nil
			})
		},
	}
	return cmd
}

func playbookShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a playbook definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				def, err := a.Library.Playbook(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(def)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	var inputs []string
	var inputsJSON string
	var detach bool
	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Run a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInputs(inputs, inputsJSON)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if detach {
					exec, err := a.Runtime.StartPlaybook(ctx, args[0], in)
					if err != nil {
						return err
					}
					return printJSONOrTable(exec)
				}
				exec, err := a.Runtime.ExecutePlaybook(ctx, args[0], in)
				if err != nil && exec.ID == "" {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(exec)
				}
				printExecution(exec)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", []string{}, "input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputsJSON, "inputs-json", "", "inputs as a JSON object")
	cmd.Flags().BoolVar(&detach, "detach", false, "start in the background and return immediately")
	return cmd
}

func executionCmd() *cobra.Command {
	exec := &cobra.Command{
		Use:   "execution",
		Short: "Manage executions",
	}
	exec.AddCommand(executionListCmd())
	exec.AddCommand(executionGetCmd())
	exec.AddCommand(executionTransitionCmd("pause", "Pause a running execution", func(a *app.App, id string) bool {
		return a.Runtime.PauseExecution(id)
	}))
	exec.AddCommand(executionTransitionCmd("resume", "Resume a paused execution", func(a *app.App, id string) bool {
		return a.Runtime.ResumeExecution(id)
	}))
	exec.AddCommand(executionTransitionCmd("cancel", "Cancel an execution", func(a *app.App, id string) bool {
		return a.Runtime.CancelExecution(id)
	}))
	exec.AddCommand(executionOverrideCmd())
	return exec
}

func executionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items := a.Runtime.ListActiveExecutions()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Playbook", "Status", "Started"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.PlaybookName, e.Status, e.StartedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func executionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, ok := a.Runtime.ExecutionStatus(args[0])
				if !ok {
					return fmt.Errorf("execution %s not found", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(exec)
				}
				printExecution(exec)
				return nil
			})
		},
	}
	return cmd
}

func executionTransitionCmd(op, short string, apply func(*app.App, string) bool) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, ok := a.Runtime.ExecutionStatus(args[0]); !ok {
					return fmt.Errorf("execution %s not found", args[0])
				}
				if !apply(a, args[0]) {
					return fmt.Errorf("cannot %s execution %s in its current state", op, args[0])
				}
				exec, _ := a.Runtime.ExecutionStatus(args[0])
				return printJSONOrTable(exec)
			})
		},
	}
}

func executionOverrideCmd() *cobra.Command {
	var stepID, userID string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Route an in-flight step to a human",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stepID == "" {
				return fmt.Errorf("--step required")
			}
			if userID == "" {
				userID = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Executor.RequestHumanOverride(stepID, userID)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step execution id")
	cmd.Flags().StringVar(&userID, "user", "", "user to route to (defaults to --actor-id)")
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{
		Use:   "resource",
		Short: "Inspect resources",
	}
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceSearchCmd())
	res.AddCommand(resourceStatsCmd())
	return res
}

func resourceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resource definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				defs := a.Runtime.Resources.ListDefinitions()
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Extends", "Characteristics"})
				for _, d := range defs {
					tw.AppendRow(table.Row{d.Name, d.Extends, len(d.Characteristics)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resourceSearchCmd() *cobra.Command {
	var filterJSON string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find definitions matching characteristics",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := map[string]any{}
			if filterJSON != "" {
				if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
					return fmt.Errorf("invalid --characteristics-json: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				matches := a.Runtime.Resources.FindMatching(filter)
				if viper.GetBool("json") {
					return printJSON(matches)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Score"})
				for _, m := range matches {
					tw.AppendRow(table.Row{m.Definition.Name, m.Score})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filterJSON, "characteristics-json", "", "characteristics filter as a JSON object")
	return cmd
}

func resourceStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show resource utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Runtime.Resources.UtilizationStats())
			})
		},
	}
	return cmd
}

func reservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservation",
		Short: "Inspect reservations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Runtime.Resources.ListReservations())
			})
		},
	})
	return cmd
}

func capabilityCmd() *cobra.Command {
	capa := &cobra.Command{
		Use:   "capability",
		Short: "Inspect capabilities",
	}
	capa.AddCommand(capabilitySearchCmd())
	capa.AddCommand(capabilityMarketplaceCmd())
	return capa
}

func capabilitySearchCmd() *cobra.Command {
	var provider, kind string
	var tags []string
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search the capability registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				filters := capability.SearchFilters{Provider: provider, Kind: kind, Tags: tags}
				results := a.Runtime.Capabilities.Find(term, filters)
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Kind", "Provider", "Description"})
				for _, r := range results {
					var def domain.CapabilityDefinition
					switch {
					case r.Capability != nil:
						def = *r.Capability
					case r.Responsibility != nil:
						def = r.Responsibility.CapabilityDefinition
					}
					tw.AppendRow(table.Row{def.Name, r.Kind, def.Provider, def.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter (capability, responsibility)")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag filter (repeatable)")
	return cmd
}

func capabilityMarketplaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketplace",
		Short: "Show registry totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Runtime.Capabilities.MarketplaceInfo())
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show runtime stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Runtime.RuntimeStats())
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.TailEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := "pl_" + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": raw})
				}
				// The plaintext key is shown once and never stored.
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.New(workspace, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			secret := a.Config.Server.JWTSecret
			if env := os.Getenv("PLAYLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			authCfg := server.AuthConfig{JWTSecret: secret, Optional: secret == ""}

			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8700"
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Playline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if authCfg.Optional {
				logger.Warn().Msg("no jwt_secret configured; serving without authentication")
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseInputs(pairs []string, inputsJSON string) (map[string]any, error) {
	inputs := map[string]any{}
	if inputsJSON != "" {
		if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
			return nil, fmt.Errorf("invalid --inputs-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		// Values that parse as JSON keep their type; the rest stay strings.
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			inputs[key] = parsed
		} else {
			inputs[key] = value
		}
	}
	return inputs, nil
}

func printExecution(exec domain.PlaybookExecution) {
	fmt.Printf("Execution: %s (%s)\n", exec.ID, exec.Status)
	fmt.Printf("Playbook:  %s\n", exec.PlaybookName)
	for _, step := range exec.Steps {
		fmt.Printf("  %s [%s]\n", step.Name, step.Status)
		for _, res := range step.Resources {
			fmt.Printf("    %s -> %s\n", res.Name, res.AllocatedTo)
		}
		for _, warn := range step.Warnings {
			fmt.Printf("    warning: %s\n", warn)
		}
		for _, e := range step.Errors {
			fmt.Printf("    error: %s\n", e)
		}
	}
	if len(exec.Outputs) > 0 {
		b, _ := json.MarshalIndent(exec.Outputs, "", "  ")
		fmt.Printf("Outputs: %s\n", string(b))
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
