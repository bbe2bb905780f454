package searchlist

import (
	"keyward/internal/keyring/models"
)

// State is the persisted shape of one domain's search list: the ordered
// store identifiers plus the default and login designations. Default and
// Login may be zero when unset; they are not required to be members of
// Stores.
type State struct {
	Stores  []models.Identifier `json:"stores"`
	Default models.Identifier   `json:"default,omitzero"`
	Login   models.Identifier   `json:"login,omitzero"`
}

// Clone returns a deep copy. Callers hand States across goroutines; sharing
// the backing slice would let one mutate the other's view.
func (s State) Clone() State {
	out := s
	out.Stores = append([]models.Identifier(nil), s.Stores...)
	return out
}

// Member reports whether id is on the list.
func (s State) Member(id models.Identifier) bool {
	for _, cur := range s.Stores {
		if cur == id {
			return true
		}
	}
	return false
}

// Add appends id unless already present and reports whether the list changed.
func (s *State) Add(id models.Identifier) bool {
	if s.Member(id) {
		return false
	}
	s.Stores = append(s.Stores, id)
	return true
}

// Remove drops id, preserving order, and reports whether the list changed.
// Default and Login designations pointing at id are cleared.
func (s *State) Remove(id models.Identifier) bool {
	changed := false
	kept := s.Stores[:0]
	for _, cur := range s.Stores {
		if cur == id {
			changed = true
			continue
		}
		kept = append(kept, cur)
	}
	s.Stores = kept
	if s.Default == id {
		s.Default = models.Identifier{}
		changed = true
	}
	if s.Login == id {
		s.Login = models.Identifier{}
		changed = true
	}
	return changed
}

// Rename rewrites every occurrence of old to new, including the default and
// login designations, and reports whether anything changed.
func (s *State) Rename(old, new models.Identifier) bool {
	changed := false
	for i, cur := range s.Stores {
		if cur == old {
			s.Stores[i] = new
			changed = true
		}
	}
	if s.Default == old {
		s.Default = new
		changed = true
	}
	if s.Login == old {
		s.Login = new
		changed = true
	}
	return changed
}

// Equal compares two states including order.
func (s State) Equal(other State) bool {
	if s.Default != other.Default || s.Login != other.Login {
		return false
	}
	if len(s.Stores) != len(other.Stores) {
		return false
	}
	for i, cur := range s.Stores {
		if cur != other.Stores[i] {
			return false
		}
	}
	return true
}
