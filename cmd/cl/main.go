package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/repo"
	"checkline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Checkline CLI",
	Long: `Checkline schedules recurring compliance checklists and tracks their execution.
- Templates: reusable checklists (items with weights, scores, required flags).
- Schedules: bind a template to a recurrence rule (fixed_days, weekly, monthly);
  the generator materializes one instance per due period.
- Instances: concrete occurrences flowing pending -> in_progress -> completed
  (cancelled is the other exit); overdue is derived from the due date.
- Scoring: weighted item scores roll up into total score and completion rate.
- Event log: every change is journaled, view with 'cl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("CHECKLINE")
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
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage checklist templates",
		Long:  "Templates define the items of a checklist. Instances snapshot them at generation time, so later edits never touch past instances.",
	}
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	return tpl
}

// parseItemSpec reads "code|label|required|weight|max_score" with trailing
// fields optional, e.g. "pressure|Gauge in green zone|true|2|5".
func parseItemSpec(raw string) (engine.TemplateItemSpec, error) {
	parts := strings.Split(raw, "|")
	spec := engine.TemplateItemSpec{Code: strings.TrimSpace(parts[0])}
	if spec.Code == "" {
		return spec, fmt.Errorf("item %q: code is required", raw)
	}
	if len(parts) > 1 {
		spec.Label = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && parts[2] != "" {
		req, err := strconv.ParseBool(parts[2])
		if err != nil {
			return spec, fmt.Errorf("item %q: required must be true or false", raw)
		}
		spec.Required = req
	}
	if len(parts) > 3 && parts[3] != "" {
		w, err := strconv.Atoi(parts[3])
		if err != nil {
			return spec, fmt.Errorf("item %q: weight must be an integer", raw)
		}
		spec.Weight = w
	}
	if len(parts) > 4 && parts[4] != "" {
		ms, err := strconv.Atoi(parts[4])
		if err != nil {
			return spec, fmt.Errorf("item %q: max_score must be an integer", raw)
		}
		spec.MaxScore = ms
	}
	return spec, nil
}

func templateCreateCmd() *cobra.Command {
	var name string
	var mandatory bool
	var frequencyDays int
	var items []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]engine.TemplateItemSpec, 0, len(items))
			for _, raw := range items {
				spec, err := parseItemSpec(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, name, mandatory, frequencyDays, specs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "mark template as mandatory")
	cmd.Flags().IntVar(&frequencyDays, "frequency-days", 0, "informational default frequency in days")
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "item spec code|label|required|weight|max_score (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Mandatory", "Items"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Mandatory, len(t.Items)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring schedules",
		Long:  "Schedules bind a template to a recurrence rule. The generator uses next_due_at and the lead window to decide when an instance materializes.",
	}
	sched.AddCommand(scheduleCreateCmd())
	sched.AddCommand(scheduleListCmd())
	sched.AddCommand(scheduleShowCmd())
	sched.AddCommand(scheduleReconfigureCmd())
	sched.AddCommand(scheduleDeactivateCmd())
	sched.AddCommand(scheduleActivateCmd())
	return sched
}

func scheduleCreateCmd() *cobra.Command {
	var opts engine.ScheduleCreateOptions
	var ruleKind string
	var ruleInterval int
	var firstDue string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Rule = domain.RecurrenceRule{Kind: domain.RuleKind(ruleKind), Interval: ruleInterval}
			opts.ActorID = viper.GetString("actor-id")
			if firstDue != "" {
				t, err := time.Parse(time.RFC3339, firstDue)
				if err != nil {
					return fmt.Errorf("invalid --first-due: %w", err)
				}
				opts.FirstDueAt = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSchedule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "template id")
	cmd.Flags().StringVar(&ruleKind, "rule", "", "recurrence kind (fixed_days, weekly, monthly)")
	cmd.Flags().IntVar(&ruleInterval, "interval", 1, "recurrence interval")
	cmd.Flags().IntVar(&opts.LeadTimeDays, "lead-days", 0, "days before due date an instance materializes")
	cmd.Flags().IntVar(&opts.ReminderDays, "reminder-days", 0, "days before due date reminders open")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "default assignee")
	cmd.Flags().StringVar(&opts.Department, "department", "", "default department")
	cmd.Flags().StringVar(&firstDue, "first-due", "", "first due date (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var templateID, active, degraded string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ScheduleFilters{TemplateID: templateID}
			if active != "" {
				v := active == "true"
				f.Active = &v
			}
			if degraded != "" {
				v := degraded == "true"
				f.Degraded = &v
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSchedules(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Rule", "Next due", "Active", "Degraded"})
				for _, s := range items {
					rule := fmt.Sprintf("%s(%d)", s.Rule.Kind, s.Rule.Interval)
					tw.AppendRow(table.Row{s.ID, s.TemplateID, rule, s.NextDueAt, s.Active, s.Degraded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "filter by template id")
	cmd.Flags().StringVar(&active, "active", "", "filter by active (true/false)")
	cmd.Flags().StringVar(&degraded, "degraded", "", "filter by degraded (true/false)")
	return cmd
}

func scheduleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSchedule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func scheduleReconfigureCmd() *cobra.Command {
	var ruleKind string
	var ruleInterval, leadDays, reminderDays int
	var assignee, department string
	cmd := &cobra.Command{
		Use:   "reconfigure <id>",
		Short: "Reconfigure a schedule",
		Long:  "Updates rule or defaults without touching generation bookkeeping; a new rule takes effect from the next generation onward.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ScheduleReconfigureOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("rule") || cmd.Flags().Changed("interval") {
				rule := domain.RecurrenceRule{Kind: domain.RuleKind(ruleKind), Interval: ruleInterval}
				opts.Rule = &rule
			}
			if cmd.Flags().Changed("lead-days") {
				opts.LeadTimeDays = &leadDays
			}
			if cmd.Flags().Changed("reminder-days") {
				opts.ReminderDays = &reminderDays
			}
			if cmd.Flags().Changed("assignee") {
				opts.Assignee = &assignee
			}
			if cmd.Flags().Changed("department") {
				opts.Department = &department
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ReconfigureSchedule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&ruleKind, "rule", "", "recurrence kind (fixed_days, weekly, monthly)")
	cmd.Flags().IntVar(&ruleInterval, "interval", 1, "recurrence interval")
	cmd.Flags().IntVar(&leadDays, "lead-days", 0, "lead time in days")
	cmd.Flags().IntVar(&reminderDays, "reminder-days", 0, "reminder window in days")
	cmd.Flags().StringVar(&assignee, "assignee", "", "default assignee")
	cmd.Flags().StringVar(&department, "department", "", "default department")
	return cmd
}

func scheduleDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop generation for a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DeactivateSchedule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func scheduleActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Re-enable a deactivated schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ActivateSchedule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func generateCmd() *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate due instances",
		Long:  "Materializes instances for every active schedule whose lead window covers now. Safe to run repeatedly and concurrently: each due period yields exactly one instance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := time.Now().UTC()
				if nowFlag != "" {
					parsed, err := time.Parse(time.RFC3339, nowFlag)
					if err != nil {
						return fmt.Errorf("invalid --now: %w", err)
					}
					now = parsed
				}
				generated, err := e.GenerateDue(ctx, now, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(generated)
				}
				fmt.Printf("Generated %d instance(s)\n", len(generated))
				for _, inst := range generated {
					fmt.Printf("  %s  %s  due %s\n", inst.ID, inst.TemplateName, inst.DueDate)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "generation clock override (RFC3339)")
	return cmd
}

func instanceCmd() *cobra.Command {
	inst := &cobra.Command{
		Use:   "instance",
		Short: "Manage checklist instances",
		Long:  "Instances are concrete checklist occurrences. They flow pending -> in_progress -> completed; cancel is the other exit and needs a reason.",
	}
	inst.AddCommand(instanceCreateCmd())
	inst.AddCommand(instanceListCmd())
	inst.AddCommand(instanceShowCmd())
	inst.AddCommand(instanceStartCmd())
	inst.AddCommand(instanceCheckCmd())
	inst.AddCommand(instanceCompleteCmd())
	inst.AddCommand(instanceCancelCmd())
	return inst
}

func instanceCreateCmd() *cobra.Command {
	var templateID, assignee, department, dueAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an ad-hoc instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			due := time.Now().UTC()
			if dueAt != "" {
				parsed, err := time.Parse(time.RFC3339, dueAt)
				if err != nil {
					return fmt.Errorf("invalid --due: %w", err)
				}
				due = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.CreateAdhocInstance(ctx, templateID, assignee, department, due, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&department, "department", "", "department")
	cmd.Flags().StringVar(&dueAt, "due", "", "due date (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func instanceListCmd() *cobra.Command {
	var f repo.InstanceFilters
	var status string
	var overdue bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.InstanceStatus(status)
			f.Limit = limit
			if overdue {
				f.Open = true
				f.DueBefore = time.Now().UTC().Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInstances(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Status", "Due", "Rate", "Overdue"})
				for _, inst := range items {
					tw.AppendRow(table.Row{inst.ID, inst.TemplateName, inst.Status, inst.DueDate, fmt.Sprintf("%d%%", inst.CompletionRate), inst.Overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ScheduleID, "schedule", "", "filter by schedule id")
	cmd.Flags().StringVar(&f.TemplateID, "template", "", "filter by template id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "filter by assignee")
	cmd.Flags().StringVar(&f.Department, "department", "", "filter by department")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "open instances past their due date")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func instanceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an instance with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.GetInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	return cmd
}

func instanceStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.StartInstance(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	return cmd
}

func instanceCheckCmd() *cobra.Command {
	var uncheck, nonCompliant bool
	var score int
	var findings, correctiveDue string
	cmd := &cobra.Command{
		Use:   "check <instance-id> <item>",
		Short: "Check an item (by id or code)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CheckItemOptions{
				InstanceID: args[0],
				ItemID:     args[1],
				Checked:    !uncheck,
				Findings:   findings,
				ActorID:    viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("non-compliant") {
				compliant := !nonCompliant
				opts.Compliant = &compliant
			}
			if cmd.Flags().Changed("score") {
				opts.Score = &score
			}
			if correctiveDue != "" {
				parsed, err := time.Parse(time.RFC3339, correctiveDue)
				if err != nil {
					return fmt.Errorf("invalid --corrective-due: %w", err)
				}
				opts.CorrectiveDueAt = &parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.CheckItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().BoolVar(&uncheck, "uncheck", false, "mark the item unchecked")
	cmd.Flags().BoolVar(&nonCompliant, "non-compliant", false, "mark the item non-compliant")
	cmd.Flags().IntVar(&score, "score", 0, "item score (0..max_score)")
	cmd.Flags().StringVar(&findings, "findings", "", "free-text findings")
	cmd.Flags().StringVar(&correctiveDue, "corrective-due", "", "corrective action due date (RFC3339)")
	return cmd
}

func instanceCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.CompleteInstance(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	return cmd
}

func instanceCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inst, err := e.CancelInstance(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancel reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func remindersCmd() *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Open instances in their reminder window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := time.Now().UTC()
				if nowFlag != "" {
					parsed, err := time.Parse(time.RFC3339, nowFlag)
					if err != nil {
						return fmt.Errorf("invalid --now: %w", err)
					}
					now = parsed
				}
				items, err := e.DueReminders(ctx, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Assignee", "Due", "Status"})
				for _, inst := range items {
					tw.AppendRow(table.Row{inst.ID, inst.TemplateName, inst.Assignee, inst.DueDate, inst.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "clock override (RFC3339)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		Long:  "The scoreboard: active and degraded schedules, overdue instances, and instance counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Schedules: %d active, %d degraded\n", st.ActiveSchedules, st.DegradedSchedules)
				fmt.Printf("Overdue instances: %d\n", st.OverdueInstances)
				fmt.Println("Instances:")
				for status, c := range st.InstanceCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
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
			fmt.Printf("Serving Checkline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
