package application

import (
	"context"
	"testing"

	"github.com/example/roomflow/internal/domain"
)

func TestBlockService_CreateBlock(t *testing.T) {
	t.Parallel()

	t.Run("applies on selected weekdays inside the range", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		block, err := app.Blocks.CreateBlock(context.Background(), BlockInput{
			RoomID:    "room_2",
			StartDate: "2024-05-06",
			EndDate:   "2024-05-31",
			Start:     "12:00",
			End:       "13:00",
			Reason:    "Lunch",
			Weekdays:  []int{5, 1, 1},
		}, app.rh)
		if err != nil {
			t.Fatalf("CreateBlock returned error: %v", err)
		}
		if block.ID != "blk_0001" || block.Status != domain.BlockActive {
			t.Fatalf("unexpected block %+v", block)
		}
		if len(block.Weekdays) != 2 || block.Weekdays[0] != 1 || block.Weekdays[1] != 5 {
			t.Fatalf("expected normalized weekdays, got %v", block.Weekdays)
		}

		for date, want := range map[string]bool{
			"2024-05-06": true,
			"2024-05-07": false,
			"2024-05-10": true,
			"2024-06-03": false,
		} {
			blocks, err := app.Blocks.ListBlocks(context.Background(), "room_2", date, true)
			if err != nil {
				t.Fatalf("ListBlocks returned error: %v", err)
			}
			if (len(blocks) == 1) != want {
				t.Fatalf("%s: expected applies=%v, got %d blocks", date, want, len(blocks))
			}
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		_, err := app.Blocks.CreateBlock(context.Background(), BlockInput{
			RoomID: "room_2", StartDate: "2024-05-10", EndDate: "2024-05-06", Start: "12:00", End: "13:00",
		}, app.rh)
		expectValidation(t, err, "end_date")
		expectValidation(t, err, "weekdays")
		expectValidation(t, err, "reason")

		_, err = app.Blocks.CreateBlock(context.Background(), BlockInput{
			RoomID: "room_2", StartDate: "2024-05-06", Start: "12:00", End: "13:00", Reason: "x", Weekdays: []int{8},
		}, app.rh)
		expectValidation(t, err, "weekdays")
	})

	t.Run("requires an approval authority", func(t *testing.T) {
		t.Parallel()
		app := newTestApp(t)
		_, err := app.Blocks.CreateBlock(context.Background(), BlockInput{
			RoomID: "room_2", StartDate: "2024-05-06", Start: "12:00", End: "13:00", Reason: "x", Weekdays: []int{1},
		}, app.dev)
		expectKind(t, err, ErrUnauthorized)
	})
}

func TestBlockService_DisableBlock(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	block, err := app.Blocks.CreateBlock(context.Background(), BlockInput{
		RoomID: "room_3", StartDate: futureDate, Start: "08:00", End: "09:00", Reason: "Maintenance", Weekdays: []int{3},
	}, app.rh)
	if err != nil {
		t.Fatalf("CreateBlock returned error: %v", err)
	}
	_, err = app.Requests.CreateRequest(context.Background(), RequestInput{
		RoomID: "room_3", Date: futureDate, Start: "08:00", End: "08:30",
	}, app.dev)
	expectKind(t, err, ErrConflict)

	disabled, err := app.Blocks.DisableBlock(context.Background(), block.ID, app.admin)
	if err != nil {
		t.Fatalf("DisableBlock returned error: %v", err)
	}
	if disabled.Status != domain.BlockInactive {
		t.Fatalf("expected INACTIVE, got %s", disabled.Status)
	}
	app.request(t, app.dev, "room_3", futureDate, "08:00", "08:30")

	all, err := app.Blocks.ListBlocks(context.Background(), "", "", false)
	if err != nil {
		t.Fatalf("ListBlocks returned error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected inactive block to be listed, got %d", len(all))
	}

	_, err = app.Blocks.DisableBlock(context.Background(), "blk_9999", app.admin)
	expectKind(t, err, ErrNotFound)

	actions := app.auditActions(t, "2024-05")
	if actions[ActionBlockCreated] != 1 || actions[ActionBlockDisabled] != 1 {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}
