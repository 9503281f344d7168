package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/testfixtures"
)

func TestNormalizeSectorName(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want    string
		wantErr bool
	}{
		" financeiro ": {want: "FINANCEIRO"},
		"":             {wantErr: true},
		"rh/ti":        {wantErr: true},
		`a\b`:          {wantErr: true},
	}
	for input, tc := range cases {
		got, err := NormalizeSectorName(input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", input)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %q, got %q (err %v)", input, tc.want, got, err)
		}
	}
}

func TestDirectoryService_Sectors(t *testing.T) {
	t.Parallel()

	t.Run("admins create sectors once", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		ctx := context.Background()

		name, err := app.Directory.CreateSector(ctx, " juridico ", app.admin)
		if err != nil {
			t.Fatalf("CreateSector returned error: %v", err)
		}
		if name != "JURIDICO" {
			t.Fatalf("expected JURIDICO, got %q", name)
		}
		_, err = app.Directory.CreateSector(ctx, "Juridico", app.admin)
		expectKind(t, err, ErrAlreadyExists)
		_, err = app.Directory.CreateSector(ctx, "admin", app.admin)
		expectValidation(t, err, "sector")
		_, err = app.Directory.CreateSector(ctx, "VENDAS", app.rh)
		expectKind(t, err, ErrUnauthorized)

		sectors, err := app.Directory.ListSectors(ctx)
		if err != nil {
			t.Fatalf("ListSectors returned error: %v", err)
		}
		if len(sectors) != 5 {
			t.Fatalf("expected 5 sectors, got %v", sectors)
		}
	})

	t.Run("legacy ADMIN sector members move to RH", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		ctx := context.Background()
		legacy := testfixtures.NewUser(testfixtures.WithSector("ADMIN"), testfixtures.WithRole(domain.RoleAdmin))
		if err := app.h.Repo.SaveUser(ctx, legacy); err != nil {
			t.Fatalf("SaveUser returned error: %v", err)
		}
		if err := app.h.Repo.SaveSector(ctx, domain.Sector{Name: "ADMIN"}); err != nil {
			t.Fatalf("SaveSector returned error: %v", err)
		}

		migrated, err := app.Directory.MigrateLegacyAdminSector(ctx)
		if err != nil {
			t.Fatalf("MigrateLegacyAdminSector returned error: %v", err)
		}
		if len(migrated) != 1 || migrated[0] != legacy.ID {
			t.Fatalf("expected %s to be migrated, got %v", legacy.ID, migrated)
		}
		user, err := app.Directory.GetUser(ctx, legacy.ID)
		if err != nil {
			t.Fatalf("GetUser returned error: %v", err)
		}
		if user.Sector != "RH" {
			t.Fatalf("expected RH sector, got %s", user.Sector)
		}
		if again, _ := app.Directory.MigrateLegacyAdminSector(ctx); len(again) != 0 {
			t.Fatalf("expected migration to be idempotent, got %v", again)
		}
		if app.auditActions(t, "2024-05")[ActionSectorMigration] != 1 {
			t.Fatalf("expected one SECTOR_MIGRATION audit event")
		}
	})
}

func TestDirectoryService_Users(t *testing.T) {
	t.Parallel()

	t.Run("create, authenticate and change password", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		ctx := context.Background()

		user, err := app.Directory.CreateUser(ctx, UserInput{
			Username: " maria ", Sector: "ti", Role: domain.RoleUser, Password: "s3cret",
		}, app.admin)
		if err != nil {
			t.Fatalf("CreateUser returned error: %v", err)
		}
		if user.ID != "u_0001" || user.Username != "maria" || user.Sector != "TI" || !user.MustChangePassword {
			t.Fatalf("unexpected user %+v", user)
		}

		_, err = app.Directory.CreateUser(ctx, UserInput{
			Username: "maria", Sector: "TI", Role: domain.RoleUser, Password: "x",
		}, app.admin)
		expectKind(t, err, ErrAlreadyExists)

		signedIn, err := app.Directory.Authenticate(ctx, "maria", "s3cret")
		if err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		if signedIn.ID != user.ID {
			t.Fatalf("expected %s, got %s", user.ID, signedIn.ID)
		}
		_, err = app.Directory.Authenticate(ctx, "maria", "wrong")
		expectKind(t, err, ErrInvalidCredentials)
		_, err = app.Directory.Authenticate(ctx, "nobody", "s3cret")
		expectKind(t, err, ErrInvalidCredentials)

		err = app.Directory.ChangeOwnPassword(ctx, user.ID, "wrong", "n3w")
		expectValidation(t, err, "current_password")
		if err := app.Directory.ChangeOwnPassword(ctx, user.ID, "s3cret", "n3w"); err != nil {
			t.Fatalf("ChangeOwnPassword returned error: %v", err)
		}
		updated, _ := app.Directory.GetUser(ctx, user.ID)
		if updated.MustChangePassword {
			t.Fatalf("expected must-change flag to be cleared")
		}
		if _, err := app.Directory.Authenticate(ctx, "maria", "n3w"); err != nil {
			t.Fatalf("Authenticate with new password returned error: %v", err)
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		_, err := app.Directory.CreateUser(context.Background(), UserInput{
			Sector: "MARKETING", Role: "GUEST",
		}, app.admin)
		expectValidation(t, err, "username")
		expectValidation(t, err, "sector")
		expectValidation(t, err, "role")
		expectValidation(t, err, "password")

		_, err = app.Directory.CreateUser(context.Background(), UserInput{
			Username: "x", Sector: "TI", Role: domain.RoleUser, Password: "x",
		}, app.rh)
		expectKind(t, err, ErrUnauthorized)
	})

	t.Run("disabled accounts cannot sign in", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		hash, err := fastHasher("pw")
		if err != nil {
			t.Fatalf("hash returned error: %v", err)
		}
		disabled := testfixtures.NewUser(testfixtures.WithUsername("gone"), testfixtures.WithPasswordHash(hash), testfixtures.Inactive())
		if err := app.h.Repo.SaveUser(context.Background(), disabled); err != nil {
			t.Fatalf("SaveUser returned error: %v", err)
		}
		_, err = app.Directory.Authenticate(context.Background(), "gone", "pw")
		expectKind(t, err, ErrAccountDisabled)
	})

	t.Run("legacy credentials are upgraded on sign-in", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		legacyHash, err := EncodeLegacyPasswordHash("old-pass", "sha256", 1000, []byte("salt"))
		if err != nil {
			t.Fatalf("EncodeLegacyPasswordHash returned error: %v", err)
		}
		legacy := testfixtures.NewUser(testfixtures.WithUsername("veteran"), testfixtures.WithPasswordHash(legacyHash))
		if err := app.h.Repo.SaveUser(context.Background(), legacy); err != nil {
			t.Fatalf("SaveUser returned error: %v", err)
		}

		if _, err := app.Directory.Authenticate(context.Background(), "veteran", "old-pass"); err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		stored, err := app.Directory.GetUser(context.Background(), legacy.ID)
		if err != nil {
			t.Fatalf("GetUser returned error: %v", err)
		}
		if IsLegacyPasswordHash(stored.PasswordHash) {
			t.Fatalf("expected credential to be rehashed, got %q", stored.PasswordHash)
		}
		if err := VerifyPassword(stored.PasswordHash, "old-pass"); err != nil {
			t.Fatalf("expected upgraded credential to verify, got %v", err)
		}
	})

	t.Run("update, reset and delete", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		ctx := context.Background()

		updated, err := app.Directory.UpdateUserRoleSector(ctx, app.dev.ID, domain.RoleRH, "engenharia", app.admin)
		if err != nil {
			t.Fatalf("UpdateUserRoleSector returned error: %v", err)
		}
		if updated.Role != domain.RoleRH || updated.Sector != "ENGENHARIA" {
			t.Fatalf("unexpected user %+v", updated)
		}
		_, err = app.Directory.UpdateUserRoleSector(ctx, app.dev.ID, domain.RoleRH, "nowhere", app.admin)
		expectValidation(t, err, "sector")

		if err := app.Directory.ResetUserPassword(ctx, app.eng.ID, "temp", app.admin); err != nil {
			t.Fatalf("ResetUserPassword returned error: %v", err)
		}
		reset, _ := app.Directory.GetUser(ctx, app.eng.ID)
		if !reset.MustChangePassword {
			t.Fatalf("expected must-change flag after reset")
		}

		expectKind(t, app.Directory.DeleteUser(ctx, app.admin.ID, app.admin), ErrInvalidState)
		if err := app.Directory.DeleteUser(ctx, app.ti.ID, app.admin); err != nil {
			t.Fatalf("DeleteUser returned error: %v", err)
		}
		_, err = app.Directory.GetUser(ctx, app.ti.ID)
		expectKind(t, err, ErrNotFound)

		members, err := app.Directory.ListUsersBySector(ctx, "rh")
		if err != nil {
			t.Fatalf("ListUsersBySector returned error: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("expected admin and rh in RH, got %d", len(members))
		}

		actions := app.auditActions(t, "2024-05")
		if actions[ActionUserUpdated] != 1 || actions[ActionPasswordReset] != 1 || actions[ActionUserDeleted] != 1 {
			t.Fatalf("unexpected audit actions %v", actions)
		}
	})
}

func TestDirectoryService_Rooms(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	ctx := context.Background()

	rooms, err := app.Directory.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms returned error: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	room, err := app.Directory.GetRoom(ctx, "room_2")
	if err != nil {
		t.Fatalf("GetRoom returned error: %v", err)
	}
	if room.Capacity != 14 {
		t.Fatalf("unexpected room %+v", room)
	}
	_, err = app.Directory.GetRoom(ctx, "room_9")
	expectKind(t, err, ErrNotFound)

	created, err := app.Directory.EnsureRoom(ctx, domain.Room{ID: "room_4", Name: "Sala 4", Capacity: 4})
	if err != nil || !created {
		t.Fatalf("expected room_4 to be created, got %v (err %v)", created, err)
	}
	again, err := app.Directory.EnsureRoom(ctx, domain.Room{ID: "room_4", Name: "Other"})
	if err != nil || again {
		t.Fatalf("expected existing room to be kept, got %v (err %v)", again, err)
	}
	if rooms, _ = app.Directory.ListRooms(ctx); len(rooms) != 4 {
		t.Fatalf("expected cache to be refreshed, got %d rooms", len(rooms))
	}
}

func TestDirectoryService_CreateUserRejectsConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	for name, open := range map[string]func(testing.TB, ...testfixtures.HarnessOption) *testfixtures.Harness{
		"files":  testfixtures.NewFileHarness,
		"sqlite": testfixtures.NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			app := newTestAppOn(t, open(t))
			ctx := context.Background()

			const callers = 8
			var created, duplicates atomic.Int32
			var g errgroup.Group
			for i := 0; i < callers; i++ {
				g.Go(func() error {
					_, err := app.Directory.CreateUser(ctx, UserInput{
						Username: "dup", Sector: "TI", Role: domain.RoleUser, Password: "pw",
					}, app.admin)
					switch {
					case err == nil:
						created.Add(1)
					case errors.Is(err, ErrAlreadyExists):
						duplicates.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("CreateUser returned error: %v", err)
			}
			if created.Load() != 1 || duplicates.Load() != callers-1 {
				t.Fatalf("expected 1 create and %d duplicates, got %d and %d", callers-1, created.Load(), duplicates.Load())
			}

			users, err := app.Directory.ListUsers(ctx)
			if err != nil {
				t.Fatalf("ListUsers returned error: %v", err)
			}
			named := 0
			for _, u := range users {
				if u.Username == "dup" {
					named++
				}
			}
			if named != 1 {
				t.Fatalf("expected one stored user named dup, got %d", named)
			}
		})
	}
}
