package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/asakaida/portaria/internal/bootstrap"
	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/handlers"
	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/infrastructure/database"
	"github.com/asakaida/portaria/internal/infrastructure/logger"
	"github.com/asakaida/portaria/internal/repositories/postgres"
	"github.com/asakaida/portaria/internal/repositories/yamlfile"
	"github.com/asakaida/portaria/internal/services/policy"
	"github.com/golang-sql/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	env       string
	rulesFile string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "portaria",
		Short: "Contextual access decisions for the education platform",
		Long: `Portaria evaluates whether a subject may perform an action on a resource,
given the institution phase, the academic calendar and the payment status.

Rules are read from a YAML rule file (--rules) or from the rule database.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.env, "env", "e", "dev", "Environment to use (dev, test, prod)")
	root.PersistentFlags().StringVarP(&opts.rulesFile, "rules", "r", "", "YAML rule file (default: rule database)")

	root.AddCommand(
		newEvaluateCmd(opts),
		newValidateCmd(opts),
		newRulesCmd(opts),
		newImportCmd(opts),
		newDeactivateCmd(opts),
	)
	return root
}

type evaluateOptions struct {
	subject     string
	roles       []string
	resource    string
	action      string
	institution string
	polo        string
	phase       string
	payment     string
	now         string
	timezone    string
}

func newEvaluateCmd(g *globalOptions) *cobra.Command {
	o := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one access request and print the decision",
		Example: `  portaria evaluate -r rules.yaml --role secretaria --resource matricula --action criar \
    --institution inst-1 --phase active --payment paid --now 2025-02-12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg, zl, err := loadEngineConfig(g.env)
			if err != nil {
				return err
			}
			defer zl.Sync()

			stores, closeStores, err := openStores(g, engineCfg)
			if err != nil {
				return err
			}
			defer closeStores()

			engine, err := bootstrap.NewEngine(stores, engineCfg, bootstrap.Options{Logger: zl})
			if err != nil {
				return err
			}

			req, err := o.request(engineCfg)
			if err != nil {
				return err
			}

			decision, evalErr := engine.Evaluate(cmd.Context(), req)
			if err := writeJSON(cmd.OutOrStdout(), handlers.NewDecisionView(decision)); err != nil {
				return err
			}
			return evalErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.subject, "subject", "cli", "Subject ID")
	f.StringSliceVar(&o.roles, "role", nil, "Subject role (repeatable)")
	f.StringVar(&o.resource, "resource", "", "Resource, e.g. matricula")
	f.StringVar(&o.action, "action", "", "Action, e.g. criar")
	f.StringVar(&o.institution, "institution", "", "Institution ID")
	f.StringVar(&o.polo, "polo", "", "Polo ID (optional)")
	f.StringVar(&o.phase, "phase", "", "Institution phase, e.g. active")
	f.StringVar(&o.payment, "payment", "", "Payment status, e.g. paid")
	f.StringVar(&o.now, "now", "", "Evaluation instant (RFC 3339) or civil date (YYYY-MM-DD); default: current time")
	f.StringVar(&o.timezone, "timezone", "", "IANA timezone (default: DEFAULT_TIMEZONE)")
	return cmd
}

func (o *evaluateOptions) request(engineCfg *config.EngineConfig) (*policy.EvaluationRequest, error) {
	req := &policy.EvaluationRequest{
		Subject:  entities.Subject{ID: o.subject, Roles: o.roles},
		Resource: o.resource,
		Action:   o.action,
		Context: entities.EvaluationContext{
			InstitutionID:    o.institution,
			PoloID:           o.polo,
			InstitutionPhase: o.phase,
			PaymentStatus:    o.payment,
			Timezone:         o.timezone,
		},
	}
	if o.now == "" {
		return req, nil
	}

	if now, err := time.Parse(time.RFC3339, o.now); err == nil {
		req.Context.Now = now
		return req, nil
	}
	date, err := civil.ParseDate(o.now)
	if err != nil {
		return nil, fmt.Errorf("--now must be RFC 3339 or YYYY-MM-DD, got %q", o.now)
	}

	// A bare date means noon on that day in the evaluation timezone
	tz := o.timezone
	if tz == "" {
		tz = engineCfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	req.Context.Now = date.In(loc).Add(12 * time.Hour)
	return req, nil
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a rule file for structural and configuration errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.rulesFile == "" {
				return fmt.Errorf("--rules is required")
			}
			store, err := yamlfile.Load(g.rulesFile)
			if err != nil {
				return err
			}
			if err := store.Validate(); err != nil {
				return fmt.Errorf("invalid rule file: %w", err)
			}

			set := store.RuleSet()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d grants, %d phase rules, %d period rules, %d payment rules, %d periods)\n",
				g.rulesFile, len(set.Grants), len(set.PhaseRules), len(set.PeriodRules), len(set.PaymentRules), len(set.Periods))
			return nil
		},
	}
}

func newRulesCmd(g *globalOptions) *cobra.Command {
	var resource, action string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active rules for a resource and action",
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg, zl, err := loadEngineConfig(g.env)
			if err != nil {
				return err
			}
			defer zl.Sync()

			stores, closeStores, err := openStores(g, engineCfg)
			if err != nil {
				return err
			}
			defer closeStores()

			ctx := cmd.Context()
			phase, err := stores.Rules.FindPhaseRules(ctx, resource, action)
			if err != nil {
				return err
			}
			period, err := stores.Rules.FindPeriodRulesByAction(ctx, resource, action)
			if err != nil {
				return err
			}
			payment, err := stores.Rules.FindPaymentRules(ctx, resource, action)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DIMENSION\tID\tCONDITION\tEFFECT\tDESCRIPTION")
			for _, r := range phase {
				fmt.Fprintf(w, "%s\t%d\tphase=%s\t%s\t%s\n", r.Dimension(), r.ID, r.Phase, effect(r.IsAllowed), r.Description)
			}
			for _, r := range period {
				fmt.Fprintf(w, "%s\t%d\t%s -%dd/+%dd\tallow in window\t%s\n", r.Dimension(), r.ID, r.PeriodType, r.DaysBeforeStart, r.DaysAfterEnd, r.Description)
			}
			for _, r := range payment {
				fmt.Fprintf(w, "%s\t%d\tpayment_status=%s\t%s\t%s\n", r.Dimension(), r.ID, r.PaymentStatus, effect(r.IsAllowed), r.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource, e.g. matricula")
	cmd.Flags().StringVar(&action, "action", "", "Action, e.g. criar")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newImportCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Insert the contents of a rule file into the rule database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.rulesFile == "" {
				return fmt.Errorf("--rules is required")
			}
			store, err := yamlfile.Load(g.rulesFile)
			if err != nil {
				return err
			}
			if err := store.Validate(); err != nil {
				return fmt.Errorf("invalid rule file: %w", err)
			}

			pg, err := connect(g.env)
			if err != nil {
				return err
			}
			defer pg.Close()

			result, err := postgres.NewPostgresRuleWriter(pg.DB).Import(cmd.Context(), store.RuleSet())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d grants, %d phase rules, %d period rules, %d payment rules, %d periods\n",
				result.Grants, result.PhaseRules, result.PeriodRules, result.PaymentRules, result.Periods)
			return nil
		},
	}
}

func newDeactivateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <phase|period|payment_status> <id>",
		Short: "Deactivate a rule in the rule database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q: %w", args[1], err)
			}

			pg, err := connect(g.env)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := postgres.NewPostgresRuleWriter(pg.DB).Deactivate(cmd.Context(), entities.Dimension(args[0]), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s rule %d\n", args[0], id)
			return nil
		},
	}
}

func loadEngineConfig(env string) (*config.EngineConfig, *zap.Logger, error) {
	if err := config.InitConfig(env); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	engineCfg, err := config.LoadEngine()
	if err != nil {
		return nil, nil, err
	}
	zl, err := logger.NewConsole(config.LoadLog().Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return engineCfg, zl, nil
}

func openStores(g *globalOptions, engineCfg *config.EngineConfig) (*bootstrap.Stores, func(), error) {
	if g.rulesFile != "" {
		stores, _, err := bootstrap.FileStores(g.rulesFile, engineCfg)
		return stores, func() {}, err
	}

	pg, err := connect(g.env)
	if err != nil {
		return nil, nil, err
	}
	stores, err := bootstrap.PostgresStores(pg.DB, engineCfg)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	return stores, func() { pg.Close() }, nil
}

func connect(env string) (*database.Postgres, error) {
	if err := config.InitConfig(env); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pg, nil
}

func effect(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
