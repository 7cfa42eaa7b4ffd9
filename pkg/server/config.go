package server

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/mqchat/pkg/store"
)

// RoomYAML represents a room in YAML config.
type RoomYAML struct {
	Name      string `yaml:"name"`
	CreatedAt string `yaml:"created_at,omitempty"` // export only
}

// RoomsConfig is the top-level YAML config for rooms.
type RoomsConfig struct {
	Rooms []RoomYAML `yaml:"rooms"`
}

// LoadRoomsFromYAML reads a rooms YAML file and creates the listed rooms.
func (s *Server) LoadRoomsFromYAML(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read rooms config: %w", err)
	}
	return s.ImportRoomsFromYAML(data)
}

// ImportRoomsFromYAML parses YAML data and creates every listed room that
// does not exist yet. It must not run concurrently with the dispatcher.
func (s *Server) ImportRoomsFromYAML(data []byte) error {
	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse rooms config: %w", err)
	}

	created := 0
	for _, r := range cfg.Rooms {
		if _, ok := s.registry.Lookup(r.Name); ok {
			continue
		}
		if _, err := s.dispatcher.ensureRoom(r.Name); err != nil {
			s.log.Warn("skipping room from config", "name", r.Name, "err", err)
			continue
		}
		created++
	}

	s.log.Info("imported rooms from YAML", "count", created)
	return nil
}

// ExportRoomsYAML exports the stored room catalog as YAML.
func ExportRoomsYAML(st store.DataStore) ([]byte, error) {
	rooms, err := st.ListRooms()
	if err != nil {
		return nil, err
	}

	cfg := RoomsConfig{Rooms: []RoomYAML{}}
	for _, r := range rooms {
		cfg.Rooms = append(cfg.Rooms, RoomYAML{
			Name:      r.Name,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&cfg)
}

// WriteAuditTable renders the membership audit trail as a table, optionally
// limited to one room and to the first limit entries.
func WriteAuditTable(w io.Writer, st store.DataStore, room string, limit int) error {
	events, err := st.ListEvents(room, limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Time", "Room", "User", "Action", "Detail"})
	table.SetAutoWrapText(false)
	for _, ev := range events {
		table.Append([]string{
			strconv.FormatInt(ev.ID, 10),
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.Room,
			ev.User,
			ev.Action.String(),
			ev.Detail,
		})
	}
	table.Render()
	return nil
}
