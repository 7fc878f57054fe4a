package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"crediflow/core/types"
	"crediflow/native/common"
	"crediflow/storage"
)

// Manager provides the persistence layer shared by the native engines. Records
// are stored as JSON payloads in the underlying key-value database so the
// daemon can run against either the in-memory or the LevelDB backend.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account/")
	rolePrefix    = []byte("role/")
	pausePrefix   = []byte("pause/")
)

func accountKey(addr []byte) []byte {
	return []byte(fmt.Sprintf("%s%x", accountPrefix, addr))
}

func roleKey(role string) []byte {
	return []byte(fmt.Sprintf("%s%s", rolePrefix, strings.TrimSpace(role)))
}

func pauseKey(module string) []byte {
	return []byte(fmt.Sprintf("%s%s", pausePrefix, strings.TrimSpace(module)))
}

// KVPut stores the JSON encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	if len(key) == 0 {
		return errors.New("state: key must not be empty")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the stored payload for key into out. The boolean reports
// whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: database not configured")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// GetAccount loads the balance record for the provided address. Missing
// accounts materialise as zero-balance records so engines can credit fresh
// addresses without a prior write.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	account := &types.Account{}
	ok, err := m.KVGet(accountKey(addr[:]), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{}, nil
	}
	return account, nil
}

// PutAccount persists the balance record for the provided address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: account must not be nil")
	}
	return m.KVPut(accountKey(addr[:]), account)
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return errors.New("state: role must not be empty")
	}
	if len(addr) == 0 {
		return errors.New("state: address must not be empty")
	}
	var members []string
	if _, err := m.KVGet(roleKey(trimmed), &members); err != nil {
		return err
	}
	encoded := hex.EncodeToString(addr)
	for _, existing := range members {
		if existing == encoded {
			return nil
		}
	}
	members = append(members, encoded)
	sort.Strings(members)
	return m.KVPut(roleKey(trimmed), members)
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	var members []string
	if _, err := m.KVGet(roleKey(role), &members); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(members))
	for _, member := range members {
		decoded, err := hex.DecodeString(member)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return, matching the best-effort semantics required by the callers.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	var members []string
	ok, err := m.KVGet(roleKey(role), &members)
	if err != nil || !ok {
		return false
	}
	encoded := hex.EncodeToString(addr)
	for _, member := range members {
		if member == encoded {
			return true
		}
	}
	return false
}

// SetPaused toggles the circuit breaker for the named module. Only admins may
// flip the switch; the flag persists across restarts.
func (m *Manager) SetPaused(caller [20]byte, module string, paused bool) error {
	trimmed := strings.TrimSpace(module)
	if trimmed == "" {
		return errors.New("state: module must not be empty")
	}
	if !m.HasRole(common.RoleAdmin, caller[:]) {
		return common.ErrUnauthorized
	}
	return m.KVPut(pauseKey(trimmed), paused)
}

// IsPaused reports whether the named module is currently halted. Read errors
// resolve to not-paused, matching the best-effort semantics of HasRole.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}
