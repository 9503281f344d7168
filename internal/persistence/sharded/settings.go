package sharded

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/example/roomflow/internal/domain"
)

// LoadSettings reads the runtime settings document. The document may carry
// comments and trailing commas; missing keys keep their default values.
func (r *Repository) LoadSettings(ctx context.Context) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	raw, found, err := r.docs.ReadRaw(ctx, SettingsKey)
	if err != nil || !found {
		return settings, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &settings); err != nil {
		return domain.DefaultSettings(), fmt.Errorf("sharded: decode %s: %w", SettingsKey, err)
	}
	return settings.WithDefaults(), nil
}

// SaveSettings replaces the runtime settings document.
func (r *Repository) SaveSettings(ctx context.Context, settings domain.Settings) error {
	return r.docs.WriteAtomic(ctx, SettingsKey, settings.WithDefaults())
}

// EnsureSettings writes the defaults when no settings document exists.
func (r *Repository) EnsureSettings(ctx context.Context) error {
	return r.docs.WithLock(ctx, SettingsKey, func(ctx context.Context) error {
		_, found, err := r.docs.ReadRaw(ctx, SettingsKey)
		if err != nil || found {
			return err
		}
		return r.docs.WriteAtomicUnlocked(ctx, SettingsKey, domain.DefaultSettings())
	})
}
