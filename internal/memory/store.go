// Package memory is the durable per-user conversation state store. One JSON
// file holds every user record; mutations are serialized per user and each
// write replaces the whole file atomically.
package memory

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// HistoryEntry is one turn of the conversation, either side.
type HistoryEntry struct {
	Role string         `json:"role"` // "user" or "bot"
	Text string         `json:"text"`
	TS   string         `json:"ts"`
	Meta map[string]any `json:"meta,omitempty"`
}

// UserRecord is the complete persisted state for one user. The engine's
// state machine lives in Flags; the flag-name vocabulary is stable because
// it appears verbatim in persisted records.
type UserRecord struct {
	UserID         string         `json:"user_id"`
	SessionToken   string         `json:"session_token"`
	Name           string         `json:"name,omitempty"`
	Gender         string         `json:"gender,omitempty"` // male, female, unknown
	IsCompany      bool           `json:"is_company,omitempty"`
	GreetingName   string         `json:"greeting_name,omitempty"`
	Product        string         `json:"product,omitempty"`
	Serial         string         `json:"serial,omitempty"`
	Address        string         `json:"address,omitempty"`
	SummaryContext []string       `json:"summary_context"`
	History        []HistoryEntry `json:"history"`
	LastAnswer     string         `json:"last_answer,omitempty"`
	Flags          map[string]any `json:"flags"`
	Slots          map[string]any `json:"slots"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05") + "Z"
}

func newToken() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func newRecord(uid string) *UserRecord {
	now := nowISO()
	return &UserRecord{
		UserID:         uid,
		SessionToken:   newToken(),
		SummaryContext: []string{},
		History:        []HistoryEntry{},
		Flags:          map[string]any{"last_activity": now},
		Slots:          map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// clone returns a deep copy safe to hand to callers outside the store lock.
func (r *UserRecord) clone() *UserRecord {
	cp := *r
	cp.SummaryContext = append([]string(nil), r.SummaryContext...)
	cp.History = make([]HistoryEntry, len(r.History))
	copy(cp.History, r.History)
	cp.Flags = cloneMap(r.Flags)
	cp.Slots = cloneMap(r.Slots)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store owns all user records. A process-wide mutex guards the record map and
// the per-user mutex table; per-user mutexes serialize whole turns so two
// messages from the same user can never interleave.
type Store struct {
	path       string
	maxHistory int

	mu      sync.RWMutex
	records map[string]*UserRecord

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewStore loads (or initializes) the store at path. A corrupt file is
// renamed to path+".corrupted.backup" and replaced with an empty mapping.
func NewStore(path string, maxHistory int) (*Store, error) {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	s := &Store{
		path:       path,
		maxHistory: maxHistory,
		records:    make(map[string]*UserRecord),
		userLocks:  make(map[string]*sync.Mutex),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.persistLocked()
		}
		return fmt.Errorf("read memory file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}

	var decoded map[string]*UserRecord
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		backup := s.path + ".corrupted.backup"
		slog.Error("memory file corrupt, reinitializing", "path", s.path, "backup", backup, "error", err)
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			slog.Error("failed to back up corrupt memory file", "error", renameErr)
		}
		return s.persistLocked()
	}

	for uid, rec := range decoded {
		if rec == nil {
			continue
		}
		rec.UserID = uid
		if rec.SessionToken == "" {
			rec.SessionToken = newToken()
		}
		if rec.Flags == nil {
			rec.Flags = map[string]any{}
		}
		if rec.Slots == nil {
			rec.Slots = map[string]any{}
		}
		s.records[uid] = rec
	}
	return nil
}

// persistLocked writes the full mapping atomically: temp file, fsync, rename.
// Callers must hold s.mu (write or read is fine; the snapshot is marshaled
// from the live map).
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "memory-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// save persists under the read lock; failures are logged, never surfaced.
// In-memory state stays correct and the next successful write catches up.
func (s *Store) save() {
	if err := s.persistLocked(); err != nil {
		slog.Error("memory save failed", "path", s.path, "error", err)
	}
}

// LockUser serializes a whole turn for one user. The engine holds this lock
// across LLM calls deliberately so turns for the same user never interleave.
func (s *Store) LockUser(uid string) {
	s.lockMu.Lock()
	l, ok := s.userLocks[uid]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[uid] = l
	}
	s.lockMu.Unlock()
	l.Lock()
}

// UnlockUser releases the turn lock for uid.
func (s *Store) UnlockUser(uid string) {
	s.lockMu.Lock()
	l, ok := s.userLocks[uid]
	s.lockMu.Unlock()
	if ok {
		l.Unlock()
	}
}

func (s *Store) getOrCreateLocked(uid string) *UserRecord {
	rec, ok := s.records[uid]
	if !ok {
		rec = newRecord(uid)
		s.records[uid] = rec
	}
	return rec
}

// Get returns a deep copy of the record for uid, creating it on demand.
func (s *Store) Get(uid string) *UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(uid).clone()
}

// Update applies fn to the live record under the store lock, then persists.
func (s *Store) Update(uid string, fn func(rec *UserRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreateLocked(uid)
	if rec.UserID != uid {
		// Invariant violation: never mutate a record that belongs to someone else.
		slog.Error("memory record user id mismatch", "expected", uid, "got", rec.UserID)
		return
	}
	fn(rec)
	rec.UpdatedAt = nowISO()
	s.save()
}

// Clear removes the record for uid entirely.
func (s *Store) Clear(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[uid]; ok {
		delete(s.records, uid)
		s.save()
	}
}

// ResetAll wipes every record. Admin/test use only.
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*UserRecord)
	s.save()
}

// AppendHistory appends one turn and trims to the configured cap, oldest
// entries first. User turns also refresh LastAnswer.
func (s *Store) AppendHistory(uid, role, text string, meta map[string]any) {
	trimmed := strings.TrimSpace(text)
	s.Update(uid, func(rec *UserRecord) {
		entry := HistoryEntry{Role: role, Text: trimmed, TS: nowISO()}
		if len(meta) > 0 {
			entry.Meta = cloneMap(meta)
		}
		rec.History = append(rec.History, entry)
		if len(rec.History) > s.maxHistory {
			rec.History = rec.History[len(rec.History)-s.maxHistory:]
		}
		if role == "user" {
			rec.LastAnswer = trimmed
		}
	})
}

// History returns a copy of the full history for uid.
func (s *Store) History(uid string) []HistoryEntry {
	return s.Get(uid).History
}

// TruncateHistory keeps only the last keepLast entries.
func (s *Store) TruncateHistory(uid string, keepLast int) {
	s.Update(uid, func(rec *UserRecord) {
		if keepLast <= 0 {
			rec.History = []HistoryEntry{}
		} else if len(rec.History) > keepLast {
			rec.History = rec.History[len(rec.History)-keepLast:]
		}
	})
}

// ChatContext renders the last n history entries as a prompt block.
func (s *Store) ChatContext(uid string, n int) string {
	hist := s.Get(uid).History
	if len(hist) == 0 {
		return "(belum ada percakapan)"
	}
	if n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	lines := make([]string, 0, len(hist))
	for _, h := range hist {
		role := "User"
		if h.Role == "bot" {
			role = "Bot"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", h.TS, role, h.Text))
	}
	return strings.Join(lines, "\n")
}

// LastBotMessage returns the most recent bot bubble, or "".
func (s *Store) LastBotMessage(uid string) string {
	hist := s.Get(uid).History
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == "bot" && hist[i].Text != "" {
			return hist[i].Text
		}
	}
	return ""
}

// LastUserAnswer returns the most recent user text.
func (s *Store) LastUserAnswer(uid string) string {
	return s.Get(uid).LastAnswer
}

// SetFlag stores a state-machine variable on the record.
func (s *Store) SetFlag(uid, key string, value any) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Flags[key] = value
	})
}

// ClearFlag removes a flag if present.
func (s *Store) ClearFlag(uid, key string) {
	s.Update(uid, func(rec *UserRecord) {
		delete(rec.Flags, key)
	})
}

// Flag returns the raw flag value and whether it was set.
func (s *Store) Flag(uid, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uid]
	if !ok {
		return nil, false
	}
	v, ok := rec.Flags[key]
	return v, ok
}

// FlagBool reads a boolean flag; missing or non-bool reads as false.
func (s *Store) FlagBool(uid, key string) bool {
	v, _ := s.Flag(uid, key)
	b, _ := v.(bool)
	return b
}

// FlagString reads a string flag; missing reads as "".
func (s *Store) FlagString(uid, key string) string {
	v, _ := s.Flag(uid, key)
	str, _ := v.(string)
	return str
}

// FlagInt reads a numeric flag. JSON round-trips numbers as float64, so both
// int and float64 are accepted.
func (s *Store) FlagInt(uid, key string) int {
	v, _ := s.Flag(uid, key)
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// FlagStrings reads an ordered string-slice flag (e.g. queued_complaints).
func (s *Store) FlagStrings(uid, key string) []string {
	v, _ := s.Flag(uid, key)
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// SetSlot stores a free-form captured value.
func (s *Store) SetSlot(uid, key string, value any) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Slots[key] = value
	})
}

// Slot returns a slot value, or nil.
func (s *Store) Slot(uid, key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uid]
	if !ok {
		return nil
	}
	return rec.Slots[key]
}

// SetName stores the customer name in title case.
func (s *Store) SetName(uid, name string) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Name = titleCase(strings.TrimSpace(name))
	})
}

// SetGender stores the inferred gender (male/female/unknown).
func (s *Store) SetGender(uid, gender string) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Gender = strings.ToLower(strings.TrimSpace(gender))
	})
}

// SetProduct stores the validated product id.
func (s *Store) SetProduct(uid, product string) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Product = strings.TrimSpace(product)
	})
}

// SetAddress stores the validated address.
func (s *Store) SetAddress(uid, address string) {
	s.Update(uid, func(rec *UserRecord) {
		rec.Address = strings.TrimSpace(address)
	})
}

// SetIsCompany marks the record as a company account; salutations are then
// suppressed and the name used bare.
func (s *Store) SetIsCompany(uid string, isCompany bool) {
	s.Update(uid, func(rec *UserRecord) {
		rec.IsCompany = isCompany
	})
}

// Identity is the collector-facing identity snapshot.
type Identity struct {
	Name      string
	Gender    string
	IsCompany bool
	Product   string
	Address   string
}

// GetIdentity returns the identity slots for uid.
func (s *Store) GetIdentity(uid string) Identity {
	rec := s.Get(uid)
	return Identity{
		Name:      rec.Name,
		Gender:    rec.Gender,
		IsCompany: rec.IsCompany,
		Product:   rec.Product,
		Address:   rec.Address,
	}
}

// AddContext appends a short long-term hint, deduplicated and capped.
func (s *Store) AddContext(uid, text string, maxItems int) {
	entry := strings.TrimSpace(text)
	if entry == "" {
		return
	}
	if maxItems <= 0 {
		maxItems = 15
	}
	s.Update(uid, func(rec *UserRecord) {
		for _, existing := range rec.SummaryContext {
			if existing == entry {
				return
			}
		}
		rec.SummaryContext = append(rec.SummaryContext, entry)
		if len(rec.SummaryContext) > maxItems {
			rec.SummaryContext = rec.SummaryContext[len(rec.SummaryContext)-maxItems:]
		}
	})
	s.EnsureProductFromText(uid, entry)
}

// EnsureProductFromText opportunistically captures product/serial mentions
// from free text.
func (s *Store) EnsureProductFromText(uid, text string) {
	low := strings.ToLower(text)

	foundProduct := ""
	if strings.Contains(low, "electronic air cleaner") || strings.Contains(low, "eac") {
		foundProduct = "Electronic Air Cleaner"
	}

	var foundSerials []string
	for _, serial := range []string{"f57a", "f90a"} {
		if strings.Contains(low, serial) {
			foundSerials = append(foundSerials, strings.ToUpper(serial))
		}
	}

	if foundProduct == "" && len(foundSerials) == 0 {
		return
	}

	s.Update(uid, func(rec *UserRecord) {
		if foundProduct != "" && rec.Product == "" {
			rec.Product = foundProduct
		}
		if len(foundSerials) > 0 {
			merged := map[string]bool{}
			if rec.Serial != "" {
				for _, existing := range strings.Split(rec.Serial, ",") {
					merged[strings.TrimSpace(existing)] = true
				}
			}
			for _, serial := range foundSerials {
				merged[serial] = true
			}
			keys := make([]string, 0, len(merged))
			for k := range merged {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rec.Serial = strings.Join(keys, ", ")
		}
	})
}

// RefreshSessionToken rotates the prompt-context token for uid.
func (s *Store) RefreshSessionToken(uid string) string {
	token := newToken()
	s.Update(uid, func(rec *UserRecord) {
		rec.SessionToken = token
	})
	return token
}

// Stats summarizes the store for the admin endpoint.
type Stats struct {
	TotalUsers    int    `json:"total_users"`
	TotalMessages int    `json:"total_messages"`
	LastUpdated   string `json:"last_updated"`
}

// GetStats returns aggregate store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{LastUpdated: "N/A"}
	for _, rec := range s.records {
		st.TotalUsers++
		st.TotalMessages += len(rec.History)
		if st.LastUpdated == "N/A" || rec.UpdatedAt > st.LastUpdated {
			st.LastUpdated = rec.UpdatedAt
		}
	}
	return st
}

// UserIDs lists every known user id.
func (s *Store) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for uid := range s.records {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids
}

// Search returns deep copies of records whose product, summary context, or
// history contains the keyword (case-insensitive substring).
func (s *Store) Search(keyword string) []*UserRecord {
	q := strings.ToLower(strings.TrimSpace(keyword))
	if q == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*UserRecord
	for _, rec := range s.records {
		if recordMatches(rec, q) {
			out = append(out, rec.clone())
		}
	}
	return out
}

// ExportedEntry is one chat turn in export form, tagged with the user and the
// session the record was created under.
type ExportedEntry struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// ExportChatHistory returns the last n history entries for uid in export
// form. An unknown user exports empty, no record is created.
func (s *Store) ExportChatHistory(uid string, n int) []ExportedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[uid]
	if !ok {
		return nil
	}
	hist := rec.History
	if n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	out := make([]ExportedEntry, 0, len(hist))
	for _, h := range hist {
		out = append(out, ExportedEntry{
			Timestamp: h.TS,
			Role:      h.Role,
			Text:      h.Text,
			UserID:    uid,
			SessionID: rec.CreatedAt,
		})
	}
	return out
}

func recordMatches(rec *UserRecord, q string) bool {
	if strings.Contains(strings.ToLower(rec.Product), q) {
		return true
	}
	for _, ctx := range rec.SummaryContext {
		if strings.Contains(strings.ToLower(ctx), q) {
			return true
		}
	}
	for _, h := range rec.History {
		if strings.Contains(strings.ToLower(h.Text), q) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
