package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/roomflow/internal/application"
	"github.com/example/roomflow/internal/config"
	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/scheduler"
	"github.com/example/roomflow/internal/sweeper"
)

func runSeed(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("seed", env.stderr)
	demo := fs.Bool("demo", false, "also create a sample booking, block and request")
	provision := fs.String("provision", env.cfg.ProvisioningFile, "YAML file listing sectors and rooms")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prov, err := config.LoadProvisioning(*provision)
	if err != nil {
		return err
	}
	plan := application.SeedPlan{Sectors: prov.Sectors, Demo: *demo}
	for _, spec := range prov.Rooms {
		plan.Rooms = append(plan.Rooms, domain.Room{
			ID:            spec.ID,
			Name:          spec.Name,
			CapacityLabel: spec.CapacityLabel,
			Capacity:      spec.Capacity,
		})
	}

	report, err := env.services.Seeder.EnsureSeed(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "sectors created: %s\n", listOrNone(report.Sectors))
	fmt.Fprintf(env.stdout, "rooms created: %s\n", listOrNone(report.Rooms))
	fmt.Fprintf(env.stdout, "users created: %s\n", listOrNone(report.Users))
	if len(report.Migrated) > 0 {
		fmt.Fprintf(env.stdout, "moved from legacy ADMIN sector: %s\n", strings.Join(report.Migrated, ", "))
	}
	if report.Demo {
		fmt.Fprintln(env.stdout, "demo data created")
	}
	return nil
}

func runSweep(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("sweep", env.stderr)
	watch := fs.Bool("watch", false, "keep running on ROOMFLOW_SWEEP_SCHEDULE until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sw, err := sweeper.New(env.services.Bookings, sweeper.Options{
		Schedule: env.cfg.SweepSchedule,
		Location: env.cfg.Location,
		Logger:   env.logger,
	})
	if err != nil {
		return err
	}
	if !*watch {
		expired, err := sw.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.stdout, "expired %d booking(s)\n", expired)
		return nil
	}

	if err := sw.Start(ctx); err != nil {
		return err
	}
	env.logger.InfoContext(ctx, "sweeper running", "schedule", env.cfg.SweepSchedule)
	<-ctx.Done()
	sw.Stop()
	env.logger.Info("watch finished", "runs", sw.Runs())
	return nil
}

// slotFlags registers the room/date/interval flags shared by the availability commands.
type slotFlags struct {
	room  string
	date  string
	start string
	end   string
}

func (f *slotFlags) register(fs *pflag.FlagSet, withInterval bool) {
	fs.StringVar(&f.room, "room", "", "room id (required)")
	fs.StringVar(&f.date, "date", "", "date as YYYY-MM-DD (default today)")
	if withInterval {
		fs.StringVar(&f.start, "start", "", "start time as HH:MM (required)")
		fs.StringVar(&f.end, "end", "", "end time as HH:MM (required)")
	}
}

func (f *slotFlags) resolve(env *environment, withInterval bool) error {
	if f.room == "" {
		return fmt.Errorf("--room is required")
	}
	if withInterval && (f.start == "" || f.end == "") {
		return fmt.Errorf("--start and --end are required")
	}
	if f.date == "" {
		f.date = time.Now().In(env.cfg.Location).Format(scheduler.DateLayout)
	}
	return nil
}

func runSemaphore(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("semaphore", env.stderr)
	var slot slotFlags
	slot.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := slot.resolve(env, true); err != nil {
		return err
	}

	verdict, err := env.services.Availability.Semaphore(ctx, slot.room, slot.date, slot.start, slot.end)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s: %s\n", strings.ToUpper(string(verdict.Color)), verdict.Message)
	return nil
}

func runSuggest(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("suggest", env.stderr)
	var slot slotFlags
	slot.register(fs, false)
	duration := fs.Int("duration", 60, "meeting length in minutes")
	limit := fs.Int("limit", 5, "maximum number of suggestions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := slot.resolve(env, false); err != nil {
		return err
	}

	slots, err := env.services.Availability.SuggestFreeSlots(ctx, slot.room, slot.date, *duration, *limit)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Fprintln(env.stdout, "no free slot")
		return nil
	}
	for _, s := range slots {
		fmt.Fprintf(env.stdout, "%s-%s\n", s.Start, s.End)
	}
	return nil
}

func runSchedule(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("schedule", env.stderr)
	var slot slotFlags
	slot.register(fs, false)
	as := fs.String("as", "", "username whose view to render")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := slot.resolve(env, false); err != nil {
		return err
	}

	var viewer domain.User
	if *as != "" {
		user, err := env.services.Directory.FindUserByUsername(ctx, *as)
		if err != nil {
			return err
		}
		viewer = user
	}
	entries, err := env.services.Availability.ScheduleForRoom(ctx, slot.room, slot.date, viewer)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Detail == "" {
			fmt.Fprintf(env.stdout, "%s  %s\n", e.Time, e.Kind)
			continue
		}
		fmt.Fprintf(env.stdout, "%s  %-8s %s\n", e.Time, e.Kind, e.Detail)
	}
	return nil
}

func runAudit(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("audit", env.stderr)
	month := fs.String("month", "", "month as YYYY-MM (default current)")
	action := fs.String("action", "", "only events with this action")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := env.services.Identity.ListAuditEvents(ctx, *month, *action)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(env.stdout, "%s %s %s %s %s/%s\n",
			e.CreatedAt.In(env.cfg.Location).Format(time.RFC3339), e.ID, e.ActorUsername, e.Action, e.TargetType, e.TargetID)
	}
	return nil
}

func runNotifications(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("notifications", env.stderr)
	username := fs.String("user", "", "username (required)")
	limit := fs.Int("limit", 20, "maximum number of entries")
	markRead := fs.Bool("mark-read", false, "mark every notification as read afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--user is required")
	}

	user, err := env.services.Directory.FindUserByUsername(ctx, *username)
	if err != nil {
		return err
	}
	items, err := env.services.Notifications.List(ctx, user.ID, *limit)
	if err != nil {
		return err
	}
	unread, err := env.services.Notifications.UnreadCount(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%d unread\n", unread)
	for _, n := range items {
		marker := " "
		if n.Unread() {
			marker = "*"
		}
		fmt.Fprintf(env.stdout, "%s %s %s: %s\n", marker, n.ID, n.Title, n.Message)
	}
	if *markRead {
		if _, err := env.services.Notifications.MarkAllRead(ctx, user.ID); err != nil {
			return err
		}
	}
	return nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
