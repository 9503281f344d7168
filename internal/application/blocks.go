package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/recurrence"
	"github.com/example/roomflow/internal/scheduler"
)

// Audit actions recorded for room blocks.
const (
	ActionBlockCreated  = "BLOCK_CREATED"
	ActionBlockDisabled = "BLOCK_DISABLED"
)

// BlockService manages administrative room closures.
type BlockService struct {
	store    BlockStore
	identity *IdentityService
	rules    scheduler.Rules
	engine   *recurrence.Engine
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewBlockService constructs a BlockService.
func NewBlockService(store BlockStore, identity *IdentityService, rules scheduler.Rules, loc *time.Location, now func() time.Time) *BlockService {
	return NewBlockServiceWithLogger(store, identity, rules, loc, now, nil)
}

// NewBlockServiceWithLogger constructs a BlockService with a specified logger.
func NewBlockServiceWithLogger(store BlockStore, identity *IdentityService, rules scheduler.Rules, loc *time.Location, now func() time.Time, logger *slog.Logger) *BlockService {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &BlockService{
		store:    store,
		identity: identity,
		rules:    rules,
		engine:   recurrence.NewEngine(loc),
		loc:      loc,
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (s *BlockService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BlockService", operation, attrs...)
}

func (s *BlockService) configured() error {
	if s == nil || s.store == nil || s.identity == nil {
		return fmt.Errorf("BlockService is not configured")
	}
	return nil
}

func (s *BlockService) validate(input BlockInput) (BlockInput, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.RoomID) == "" {
		vErr.add("room_id", "room is required")
	}
	if _, _, err := s.rules.ValidateWindow(input.StartDate, input.Start, input.End); err != nil {
		if wErr, ok := windowValidation(err).(*ValidationError); ok {
			vErr.merge(wErr)
		} else {
			return input, err
		}
	}
	if input.EndDate == "" {
		input.EndDate = input.StartDate
	}
	if _, err := scheduler.ParseDate(input.EndDate, s.loc); err != nil {
		vErr.add("end_date", err.Error())
	} else if input.StartDate > input.EndDate {
		vErr.add("end_date", "start date must not be after end date")
	}
	if len(input.Weekdays) == 0 {
		vErr.add("weekdays", "select at least one weekday")
	} else if weekdays, err := recurrence.NormalizeWeekdays(input.Weekdays); err != nil {
		vErr.add("weekdays", err.Error())
	} else {
		input.Weekdays = weekdays
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		vErr.add("reason", "a block reason is required")
	}
	if vErr.HasErrors() {
		return input, vErr
	}
	input.Start, _ = scheduler.NormalizeClock(input.Start)
	input.End, _ = scheduler.NormalizeClock(input.End)
	return input, nil
}

// CreateBlock closes a room over a date range on the selected weekdays.
func (s *BlockService) CreateBlock(ctx context.Context, input BlockInput, actor domain.User) (block domain.Block, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateBlock",
		"actor_id", actor.ID,
		"room_id", input.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("block_id", block.ID).InfoContext(ctx, "block created")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	input, err = s.validate(input)
	if err != nil {
		return
	}

	var id string
	id, err = s.identity.NextID(ctx, KindBlocks, PrefixBlock)
	if err != nil {
		return
	}
	now := s.now()
	block = domain.Block{
		ID:        id,
		RoomID:    input.RoomID,
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		Weekdays:  input.Weekdays,
		Start:     input.Start,
		End:       input.End,
		Reason:    input.Reason,
		CreatedBy: actor.ID,
		Status:    domain.BlockActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.MutateBlocks(ctx, block.RoomID, func(items []domain.Block) ([]domain.Block, bool, error) {
		return append(items, block), true, nil
	})
	if err != nil {
		return
	}

	_, err = s.identity.Audit(ctx, actor.Actor(), ActionBlockCreated, TargetBlock, block.ID, map[string]any{
		"room_id":    block.RoomID,
		"start_date": block.StartDate,
		"end_date":   block.EndDate,
		"weekdays":   block.Weekdays,
	})
	return
}

// DisableBlock moves a block to INACTIVE.
func (s *BlockService) DisableBlock(ctx context.Context, id string, actor domain.User) (block domain.Block, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DisableBlock",
		"actor_id", actor.ID,
		"block_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to disable block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "block disabled")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}

	var rooms []string
	rooms, err = s.store.BlockRooms(ctx)
	if err != nil {
		return
	}
	found := false
	now := s.now()
	for _, roomID := range rooms {
		err = s.store.MutateBlocks(ctx, roomID, func(items []domain.Block) ([]domain.Block, bool, error) {
			for i := range items {
				if items[i].ID != id {
					continue
				}
				found = true
				items[i].Status = domain.BlockInactive
				items[i].UpdatedAt = now
				block = items[i]
				return items, true, nil
			}
			return nil, false, nil
		})
		if err != nil || found {
			break
		}
	}
	if err != nil {
		return
	}
	if !found {
		err = fmt.Errorf("%w: block %s", ErrNotFound, id)
		return
	}

	_, err = s.identity.Audit(ctx, actor.Actor(), ActionBlockDisabled, TargetBlock, block.ID, nil)
	return
}

// ListBlocks returns blocks ordered by room and start. An empty roomID lists
// every room; a non-empty date keeps only blocks applicable on that day.
func (s *BlockService) ListBlocks(ctx context.Context, roomID, date string, activeOnly bool) ([]domain.Block, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	rooms := []string{roomID}
	if roomID == "" {
		var err error
		if rooms, err = s.store.BlockRooms(ctx); err != nil {
			return nil, err
		}
	}

	var out []domain.Block
	for _, room := range rooms {
		blocks, err := s.store.LoadBlocks(ctx, room)
		if err != nil {
			return nil, err
		}
		for _, blk := range blocks {
			if activeOnly && blk.Status != domain.BlockActive {
				continue
			}
			if date != "" && !s.engine.BlockApplies(blk, date) {
				continue
			}
			out = append(out, blk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}
