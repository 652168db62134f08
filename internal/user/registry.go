package user

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/rickgao/central/internal/model"
)

// Registry indexes connected characters by id and by name. One lock guards
// both indexes.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byID   map[int32]model.UserRecord
	byName map[string]int32
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "user_registry"),
		byID:   make(map[int32]model.UserRecord),
		byName: make(map[string]int32),
	}
}

func fold(name string) string {
	return strings.ToLower(name)
}

// Connect stores u, replacing any record for the same character.
func (r *Registry) Connect(u model.UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.putLocked(u)
	r.logger.Debug("user connected", "character_id", u.CharacterID, "channel", u.ChannelID)
}

// Update replaces the record for an existing character. Returns false if the
// character is unknown.
func (r *Registry) Update(u model.UserRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[u.CharacterID]; !ok {
		return false
	}
	r.putLocked(u)
	return true
}

func (r *Registry) putLocked(u model.UserRecord) {
	if prev, ok := r.byID[u.CharacterID]; ok {
		key := fold(prev.CharacterName)
		if r.byName[key] == u.CharacterID {
			delete(r.byName, key)
		}
	}
	r.byID[u.CharacterID] = u
	r.byName[fold(u.CharacterName)] = u.CharacterID
}

// Disconnect removes the character and returns its last record.
func (r *Registry) Disconnect(characterID int32) (model.UserRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[characterID]
	if !ok {
		return u, false
	}
	r.removeLocked(u)
	return u, true
}

// DisconnectFrom removes the character only while its record still points
// at channelID.
func (r *Registry) DisconnectFrom(characterID, channelID int32) (model.UserRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[characterID]
	if !ok || u.ChannelID != channelID {
		return u, false
	}
	r.removeLocked(u)
	return u, true
}

func (r *Registry) removeLocked(u model.UserRecord) {
	delete(r.byID, u.CharacterID)
	key := fold(u.CharacterName)
	if r.byName[key] == u.CharacterID {
		delete(r.byName, key)
	}
	r.logger.Debug("user disconnected", "character_id", u.CharacterID, "channel", u.ChannelID)
}

// ByID returns the record for characterID.
func (r *Registry) ByID(characterID int32) (model.UserRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[characterID]
	return u, ok
}

// ByName returns the record for a character name, ignoring case.
func (r *Registry) ByName(name string) (model.UserRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[fold(name)]
	if !ok {
		return model.UserRecord{}, false
	}
	u, ok := r.byID[id]
	return u, ok
}

// QueryByNames returns the records found for names, in request order.
// Unknown names are skipped.
func (r *Registry) QueryByNames(names []string) []model.UserRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.UserRecord, 0, len(names))
	for _, name := range names {
		if id, ok := r.byName[fold(name)]; ok {
			out = append(out, r.byID[id])
		}
	}
	return out
}

// SetPartyID sets the party affiliation of a connected character. Returns
// false if the character is unknown.
func (r *Registry) SetPartyID(characterID, partyID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[characterID]
	if !ok {
		return false
	}
	u.PartyID = partyID
	r.byID[characterID] = u
	return true
}

// Len returns the number of connected characters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
