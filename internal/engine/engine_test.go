package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/recurrence"
	"checkline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{Engine: eng, Ctx: context.Background()}
}

func (env *testEnv) at(t time.Time) {
	env.Engine.Now = func() time.Time { return t }
}

func fireExtinguisherTemplate(t *testing.T, env *testEnv) domain.Template {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, "Fire-Extinguisher Check", true, 30, []engine.TemplateItemSpec{
		{Code: "pressure", Label: "Gauge in green zone", Required: true, Weight: 2, MaxScore: 5},
		{Code: "seal", Label: "Tamper seal intact", Required: true, Weight: 1, MaxScore: 5},
		{Code: "access", Label: "Unobstructed access", Required: true, Weight: 1, MaxScore: 5},
	}, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func monthlySchedule(t *testing.T, env *testEnv, templateID string, firstDue time.Time, leadDays int) domain.Schedule {
	t.Helper()
	s, err := env.Engine.CreateSchedule(env.Ctx, engine.ScheduleCreateOptions{
		TemplateID:   templateID,
		Rule:         domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 1},
		LeadTimeDays: leadDays,
		ReminderDays: 3,
		Assignee:     "inspector-1",
		Department:   "facilities",
		FirstDueAt:   firstDue,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return s
}

func TestCreateScheduleRejectsInvalidRule(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	cases := []domain.RecurrenceRule{
		{Kind: domain.RuleMonthly, Interval: 0},
		{Kind: domain.RuleKind("hourly"), Interval: 1},
	}
	for _, rule := range cases {
		_, err := env.Engine.CreateSchedule(env.Ctx, engine.ScheduleCreateOptions{
			TemplateID: tpl.ID,
			Rule:       rule,
			ActorID:    "tester",
		})
		var ire recurrence.InvalidRuleError
		if !errors.As(err, &ire) {
			t.Errorf("rule %v: expected InvalidRuleError, got %v", rule, err)
		}
	}
}

func TestGenerateDueLeadWindow(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	firstDue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := monthlySchedule(t, env, tpl.ID, firstDue, 5)

	// one day before the lead window opens: nothing
	before := time.Date(2023, 12, 26, 0, 0, 0, 0, time.UTC)
	env.at(before)
	generated, err := env.Engine.GenerateDue(env.Ctx, before, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 0 {
		t.Fatalf("expected no instance before lead window, got %d", len(generated))
	}

	// window opens exactly leadTimeDays before the due date
	open := time.Date(2023, 12, 27, 0, 0, 0, 0, time.UTC)
	env.at(open)
	generated, err = env.Engine.GenerateDue(env.Ctx, open, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 1 {
		t.Fatalf("expected one instance, got %d", len(generated))
	}
	inst := generated[0]
	if inst.ScheduledDate != "2024-01-01T00:00:00Z" {
		t.Errorf("scheduled date: got %s", inst.ScheduledDate)
	}
	if inst.Status != domain.StatusPending {
		t.Errorf("status: got %s", inst.Status)
	}
	if len(inst.Items) != 3 {
		t.Errorf("expected 3 snapshotted items, got %d", len(inst.Items))
	}
	if inst.Assignee != "inspector-1" || inst.Department != "facilities" {
		t.Errorf("defaults not copied: %q %q", inst.Assignee, inst.Department)
	}

	adv, err := env.Engine.GetSchedule(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if adv.NextDueAt != "2024-02-01T00:00:00Z" {
		t.Errorf("next_due_at: got %s want 2024-02-01T00:00:00Z", adv.NextDueAt)
	}
	if adv.LastGeneratedAt == nil {
		t.Errorf("last_generated_at not set")
	} else if !(*adv.LastGeneratedAt < adv.NextDueAt) {
		t.Errorf("monotonic advance violated: last=%s next=%s", *adv.LastGeneratedAt, adv.NextDueAt)
	}
}

func TestGenerateDueIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	env.at(now)
	for i := 0; i < 5; i++ {
		if _, err := env.Engine.GenerateDue(env.Ctx, now, "cron"); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	instances, err := env.Engine.ListInstances(env.Ctx, repo.InstanceFilters{ScheduleID: s.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected exactly one instance for the period, got %d", len(instances))
	}
}

func TestGenerateDueConcurrentClaims(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	env.at(now)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.Engine.GenerateDue(env.Ctx, now, "cron")
		}()
	}
	wg.Wait()

	instances, err := env.Engine.ListInstances(env.Ctx, repo.InstanceFilters{ScheduleID: s.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("claim race produced %d instances, want 1", len(instances))
	}
}

func TestGenerateSkipsInactiveSchedule(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	if _, err := env.Engine.DeactivateSchedule(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	env.at(now)
	generated, err := env.Engine.GenerateDue(env.Ctx, now, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 0 {
		t.Fatalf("inactive schedule generated %d instances", len(generated))
	}
}

func TestMissingTemplateDegradesScheduleOnly(t *testing.T) {
	env := newTestEnv(t)
	broken := fireExtinguisherTemplate(t, env)
	healthy, err := env.Engine.CreateTemplate(env.Ctx, "First-Aid Kit Check", false, 0, []engine.TemplateItemSpec{
		{Code: "stocked", Required: true},
	}, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	brokenSched := monthlySchedule(t, env, broken.ID, due, 0)
	healthySched := monthlySchedule(t, env, healthy.ID, due, 0)

	// simulate a template deleted out from under its schedule
	if _, err := env.Engine.DB.Exec(`DELETE FROM template_items WHERE template_id=?`, broken.ID); err != nil {
		t.Fatalf("delete items: %v", err)
	}
	if _, err := env.Engine.DB.Exec(`DELETE FROM templates WHERE id=?`, broken.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	env.at(now)
	generated, err := env.Engine.GenerateDue(env.Ctx, now, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 1 {
		t.Fatalf("expected the healthy schedule to generate, got %d instances", len(generated))
	}
	if *generated[0].ScheduleID != healthySched.ID {
		t.Fatalf("wrong schedule generated")
	}
	flagged, err := env.Engine.GetSchedule(env.Ctx, brokenSched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !flagged.Degraded {
		t.Fatalf("schedule with missing template not flagged degraded")
	}
	st, err := env.Engine.Status(env.Ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.DegradedSchedules != 1 {
		t.Fatalf("status degraded count: got %d want 1", st.DegradedSchedules)
	}
}

func generateOne(t *testing.T, env *testEnv, now time.Time) domain.Instance {
	t.Helper()
	env.at(now)
	generated, err := env.Engine.GenerateDue(env.Ctx, now, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 1 {
		t.Fatalf("expected one instance, got %d", len(generated))
	}
	return generated[0]
}

func TestLifecycleCompleteBlockedUntilRequiredChecked(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	inst := generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	// checkItem before start is a lifecycle violation
	_, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
		InstanceID: inst.ID, ItemID: "pressure", Checked: true, ActorID: "inspector-1",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("check before start: expected InvalidTransitionError, got %v", err)
	}

	started, err := env.Engine.StartInstance(env.Ctx, inst.ID, "inspector-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusInProgress || started.StartedAt == nil {
		t.Fatalf("start did not record state: %+v", started)
	}
	// double start fails
	if _, err := env.Engine.StartInstance(env.Ctx, inst.ID, "inspector-1"); !errors.As(err, &ite) {
		t.Fatalf("second start: expected InvalidTransitionError, got %v", err)
	}

	for _, code := range []string{"pressure", "seal"} {
		if _, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
			InstanceID: inst.ID, ItemID: code, Checked: true, ActorID: "inspector-1",
		}); err != nil {
			t.Fatalf("check %s: %v", code, err)
		}
	}
	_, err = env.Engine.CompleteInstance(env.Ctx, inst.ID, "inspector-1")
	var incomplete engine.IncompleteRequiredItemsError
	if !errors.As(err, &incomplete) {
		t.Fatalf("complete with unchecked required item: expected IncompleteRequiredItemsError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != "access" {
		t.Fatalf("missing items: got %v", incomplete.Missing)
	}

	if _, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
		InstanceID: inst.ID, ItemID: "access", Checked: true, ActorID: "inspector-1",
	}); err != nil {
		t.Fatalf("check access: %v", err)
	}
	done, err := env.Engine.CompleteInstance(env.Ctx, inst.ID, "inspector-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("complete did not record state: %+v", done)
	}
	if done.CompletionRate != 100 {
		t.Fatalf("completion rate: got %d want 100", done.CompletionRate)
	}
	// terminal: no further transitions
	if _, err := env.Engine.CancelInstance(env.Ctx, inst.ID, "obsolete", "inspector-1"); !errors.As(err, &ite) {
		t.Fatalf("cancel after complete: expected InvalidTransitionError, got %v", err)
	}
}

func TestCheckItemScoring(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	inst := generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if inst.MaxTotalScore != 20 { // 2*5 + 1*5 + 1*5
		t.Fatalf("max total score: got %d want 20", inst.MaxTotalScore)
	}
	if _, err := env.Engine.StartInstance(env.Ctx, inst.ID, "inspector-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	score := 4
	nonCompliant := false
	got, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
		InstanceID: inst.ID,
		ItemID:     "pressure",
		Checked:    true,
		Compliant:  &nonCompliant,
		Score:      &score,
		Findings:   "gauge slightly below green",
		ActorID:    "inspector-1",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.TotalScore != 8 { // 4 * weight 2
		t.Errorf("total score: got %d want 8", got.TotalScore)
	}
	if got.CompletionRate != 33 { // 1 of 3 required
		t.Errorf("completion rate: got %d want 33", got.CompletionRate)
	}
	if got.Compliant {
		t.Errorf("non-compliant item should fail instance compliance")
	}

	// score above the item maximum is rejected
	over := 6
	if _, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
		InstanceID: inst.ID, ItemID: "seal", Checked: true, Score: &over, ActorID: "inspector-1",
	}); err == nil {
		t.Fatalf("expected out-of-range score to fail")
	}
}

func TestCancelRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	inst, err := env.Engine.CreateAdhocInstance(env.Ctx, tpl.ID, "inspector-1", "facilities",
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "tester")
	if err != nil {
		t.Fatalf("adhoc: %v", err)
	}
	if inst.ScheduleID != nil {
		t.Fatalf("ad-hoc instance should have no schedule")
	}
	if _, err := env.Engine.CancelInstance(env.Ctx, inst.ID, "", "tester"); err == nil {
		t.Fatalf("expected cancel without reason to fail")
	}
	cancelled, err := env.Engine.CancelInstance(env.Ctx, inst.ID, "duplicate entry", "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.CancelReason == nil {
		t.Fatalf("cancel did not record state: %+v", cancelled)
	}
}

func TestOverdueIsDerived(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	inst := generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	env.at(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	got, err := env.Engine.GetInstance(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Overdue {
		t.Fatalf("pending instance past due date should be overdue")
	}

	if _, err := env.Engine.StartInstance(env.Ctx, inst.ID, "inspector-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, code := range []string{"pressure", "seal", "access"} {
		if _, err := env.Engine.CheckItem(env.Ctx, engine.CheckItemOptions{
			InstanceID: inst.ID, ItemID: code, Checked: true, ActorID: "inspector-1",
		}); err != nil {
			t.Fatalf("check %s: %v", code, err)
		}
	}
	if _, err := env.Engine.CompleteInstance(env.Ctx, inst.ID, "inspector-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err = env.Engine.GetInstance(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Overdue {
		t.Fatalf("completed instance must not be overdue, even past due date")
	}
}

func TestZeroRequiredItemsImmediatelyCompletable(t *testing.T) {
	env := newTestEnv(t)
	tpl, err := env.Engine.CreateTemplate(env.Ctx, "Optional Walkthrough", false, 0, []engine.TemplateItemSpec{
		{Code: "tidy", Required: false},
		{Code: "lights", Required: false},
	}, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	inst, err := env.Engine.CreateAdhocInstance(env.Ctx, tpl.ID, "", "",
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "tester")
	if err != nil {
		t.Fatalf("adhoc: %v", err)
	}
	if inst.CompletionRate != 0 {
		t.Fatalf("rate with zero required items: got %d want 0", inst.CompletionRate)
	}
	done, err := env.Engine.CompleteInstance(env.Ctx, inst.ID, "tester")
	if err != nil {
		t.Fatalf("complete without start: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status: got %s", done.Status)
	}
}

func TestReconfigureScheduleKeepsBookkeeping(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	weekly := domain.RecurrenceRule{Kind: domain.RuleWeekly, Interval: 2}
	updated, err := env.Engine.ReconfigureSchedule(env.Ctx, engine.ScheduleReconfigureOptions{
		ID: s.ID, Rule: &weekly, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if updated.Rule.Kind != domain.RuleWeekly || updated.NextDueAt != s.NextDueAt {
		t.Fatalf("reconfigure touched bookkeeping: %+v", updated)
	}

	bad := domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 0}
	if _, err := env.Engine.ReconfigureSchedule(env.Ctx, engine.ScheduleReconfigureOptions{
		ID: s.ID, Rule: &bad, ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected invalid rule to be rejected on reconfigure")
	}

	// new rule drives the next advance
	generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	adv, err := env.Engine.GetSchedule(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if adv.NextDueAt != "2024-01-15T00:00:00Z" {
		t.Fatalf("next_due_at after weekly(2) advance: got %s", adv.NextDueAt)
	}
}

func TestDueReminders(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 30)
	inst := generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	// reminder window is 3 days before the due date
	early, err := env.Engine.DueReminders(env.Ctx, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("expected no reminders before the window, got %d", len(early))
	}
	due, err := env.Engine.DueReminders(env.Ctx, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	if len(due) != 1 || due[0].ID != inst.ID {
		t.Fatalf("expected the open instance in the reminder window, got %d", len(due))
	}
}

func TestGenerateCatchesUpLapsedPeriods(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	// first tick arrives two and a half months late: every lapsed period
	// gets its own instance within the single run
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	env.at(now)
	generated, err := env.Engine.GenerateDue(env.Ctx, now, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 3 {
		t.Fatalf("lapsed periods: got %d instances, want 3", len(generated))
	}
	want := []string{"2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z", "2024-03-01T00:00:00Z"}
	for i, date := range want {
		if generated[i].ScheduledDate != date {
			t.Errorf("instance %d scheduled date: got %s want %s", i, generated[i].ScheduledDate, date)
		}
	}

	adv, err := env.Engine.GetSchedule(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if adv.NextDueAt != "2024-04-01T00:00:00Z" {
		t.Errorf("next_due_at after catch-up: got %s want 2024-04-01T00:00:00Z", adv.NextDueAt)
	}
	if adv.LastGeneratedAt == nil {
		t.Fatalf("last_generated_at not set")
	}
	if !(*adv.LastGeneratedAt < adv.NextDueAt) {
		t.Fatalf("monotonic advance violated: last=%s next=%s", *adv.LastGeneratedAt, adv.NextDueAt)
	}
}

func TestGenerateAppliesGraceDays(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Generation.GraceDays = 2
	tpl := fireExtinguisherTemplate(t, env)
	monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	inst := generateOne(t, env, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	if inst.ScheduledDate != "2024-01-01T00:00:00Z" {
		t.Errorf("scheduled date: got %s", inst.ScheduledDate)
	}
	if inst.DueDate != "2024-01-03T00:00:00Z" {
		t.Fatalf("due date with 2 grace days: got %s want 2024-01-03T00:00:00Z", inst.DueDate)
	}

	// overdue tracks the grace-extended due date
	env.at(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	got, err := env.Engine.GetInstance(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Overdue {
		t.Fatalf("instance inside the grace window must not be overdue")
	}
	env.at(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))
	got, err = env.Engine.GetInstance(env.Ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Overdue {
		t.Fatalf("instance past the grace-extended due date should be overdue")
	}
}

func TestCorruptRuleDegradesSchedule(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	// simulate a stored rule corrupted after creation-time validation
	if _, err := env.Engine.DB.Exec(`UPDATE schedules SET rule_kind='hourly' WHERE id=?`, s.ID); err != nil {
		t.Fatalf("corrupt rule: %v", err)
	}

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	env.at(now)
	generated, err := env.Engine.GenerateDue(env.Ctx, now, "cron")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(generated) != 0 {
		t.Fatalf("corrupt rule generated %d instances", len(generated))
	}

	flagged, err := env.Engine.GetSchedule(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !flagged.Degraded {
		t.Fatalf("schedule with corrupt rule not flagged degraded")
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "schedule.degraded", "schedule", s.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("degraded events: got %d want 1", len(evs))
	}
	if !strings.Contains(evs[0].Payload, "hourly") {
		t.Fatalf("degraded event payload missing cause: %s", evs[0].Payload)
	}
}

func TestGenerationAdvancesAcrossMonthEnds(t *testing.T) {
	env := newTestEnv(t)
	tpl := fireExtinguisherTemplate(t, env)
	s := monthlySchedule(t, env, tpl.ID, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 0)

	expect := []string{"2024-02-29T00:00:00Z", "2024-03-29T00:00:00Z", "2024-04-29T00:00:00Z"}
	now := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, want := range expect {
		env.at(now)
		if _, err := env.Engine.GenerateDue(env.Ctx, now, "cron"); err != nil {
			t.Fatalf("generate: %v", err)
		}
		adv, err := env.Engine.GetSchedule(env.Ctx, s.ID)
		if err != nil {
			t.Fatalf("get schedule: %v", err)
		}
		if adv.NextDueAt != want {
			t.Fatalf("next_due_at: got %s want %s", adv.NextDueAt, want)
		}
		next, _ := time.Parse(time.RFC3339, adv.NextDueAt)
		now = next
	}
}
