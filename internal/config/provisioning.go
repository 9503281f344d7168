package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoomSpec describes a room listed in the provisioning file.
type RoomSpec struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	CapacityLabel string `yaml:"capacity_label"`
	Capacity      int    `yaml:"capacity"`
}

// Provisioning lists the rooms and sectors created by the seed command.
type Provisioning struct {
	Sectors []string   `yaml:"sectors"`
	Rooms   []RoomSpec `yaml:"rooms"`
}

// DefaultProvisioning returns the rooms and sectors used when no file is given.
func DefaultProvisioning() Provisioning {
	return Provisioning{
		Sectors: []string{"RH", "TI", "DESENVOLVIMENTO", "ENGENHARIA"},
		Rooms: []RoomSpec{
			{ID: "room_1", Name: "Sala 1", CapacityLabel: "Menor", Capacity: 6},
			{ID: "room_2", Name: "Sala 2", CapacityLabel: "Maior", Capacity: 14},
			{ID: "room_3", Name: "Sala 3", CapacityLabel: "Média", Capacity: 10},
		},
	}
}

// LoadProvisioning reads a YAML provisioning file. An empty path yields
// DefaultProvisioning; sections missing from the file keep their defaults.
func LoadProvisioning(path string) (Provisioning, error) {
	def := DefaultProvisioning()
	if strings.TrimSpace(path) == "" {
		return def, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Provisioning{}, fmt.Errorf("read provisioning file: %w", err)
	}
	var p Provisioning
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Provisioning{}, fmt.Errorf("parse provisioning file %s: %w", path, err)
	}
	if len(p.Sectors) == 0 {
		p.Sectors = def.Sectors
	}
	if len(p.Rooms) == 0 {
		p.Rooms = def.Rooms
	}
	if err := p.Validate(); err != nil {
		return Provisioning{}, fmt.Errorf("provisioning file %s: %w", path, err)
	}
	return p, nil
}

// Validate reports rooms without an id or name and duplicate room ids.
func (p Provisioning) Validate() error {
	seen := make(map[string]struct{}, len(p.Rooms))
	for i, room := range p.Rooms {
		if strings.TrimSpace(room.ID) == "" || strings.TrimSpace(room.Name) == "" {
			return fmt.Errorf("room %d: id and name are required", i+1)
		}
		if room.Capacity < 0 {
			return fmt.Errorf("room %s: capacity must not be negative", room.ID)
		}
		if _, dup := seen[room.ID]; dup {
			return fmt.Errorf("room %s: duplicate id", room.ID)
		}
		seen[room.ID] = struct{}{}
	}
	return nil
}
