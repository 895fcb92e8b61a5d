// Package players provisions and reads player records. The chat frontend
// registers a player on first contact; everything after that goes through
// the action and battle engines.
package players

import (
	"errors"
	"log"
	"strings"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/tuning"
)

type Service struct {
	store *gamedb.Store
	cat   *catalogs.Catalogs
	tune  tuning.Tuning
	log   *log.Logger
	now   func() time.Time
}

func New(store *gamedb.Store, cat *catalogs.Catalogs, tune tuning.Tuning, logger *log.Logger) *Service {
	return &Service{store: store, cat: cat, tune: tune, log: logger, now: time.Now}
}

// Register creates the player with the starting loadout. Registering an id
// that already exists is a conflict, never an overwrite.
func (s *Service) Register(userID, name string) (*model.Player, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return nil, protocol.Errf(protocol.ErrBadRequest, "user_id is required")
	}
	if name == "" {
		name = userID
	}
	if loc := s.tune.StartLocation; loc != "" {
		if _, ok := s.cat.Locations.ByID[loc]; !ok {
			return nil, protocol.Errf(protocol.ErrInternal, "start location %s not in catalog", loc)
		}
	}

	stats := model.Stats{Level: 1, Strength: 5, Agility: 5, Intelligence: 5, Constitution: 5}
	p := &model.Player{
		ID:        userID,
		Name:      name,
		Stats:     stats,
		Gold:      s.tune.StartGold,
		Mana:      model.MaxMana(stats),
		Location:  s.tune.StartLocation,
		Inventory: map[string]int{},
		CreatedAt: s.now().UTC(),
	}

	err := s.store.WithTx(func(tx *gamedb.Tx) error {
		if _, err := tx.GetPlayer(userID); err == nil {
			return protocol.Errf(protocol.ErrConflict, "player %s already registered", userID)
		} else if !errors.Is(err, gamedb.ErrNotFound) {
			return err
		}
		return tx.PutPlayer(p)
	})
	if err != nil {
		return nil, err
	}

	s.store.Audit(protocol.Event{
		"type": "player_register", "actor": userID, "name": name,
		"location": p.Location, "gold": p.Gold,
	})
	return p, nil
}

// Get returns the player record or a not-found protocol error.
func (s *Service) Get(userID string) (*model.Player, error) {
	p, err := s.store.GetPlayer(userID)
	if errors.Is(err, gamedb.ErrNotFound) {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown player %s", userID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
