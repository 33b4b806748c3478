package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"sip-core/sipconfig"
)

// ErrNotFound 条目不存在
var ErrNotFound = errors.New("config entry not found")

// ErrAlreadyConfigured 同一 domain 只允许一个条目
var ErrAlreadyConfigured = errors.New("already_configured")

// Entry 是一个配置条目：创建时的 data 与之后由选项流程修改的 options。
type Entry struct {
	ID        string                 `yaml:"entry_id"`
	Domain    string                 `yaml:"domain"`
	Title     string                 `yaml:"title"`
	Version   int                    `yaml:"version"`
	Data      map[string]interface{} `yaml:"data"`
	Options   map[string]interface{} `yaml:"options"`
	CreatedAt time.Time              `yaml:"created_at"`
	UpdatedAt time.Time              `yaml:"updated_at"`
}

// EventSink 接收条目变更事件（entry_created / options_updated）。
type EventSink func(event string, entry Entry)

type fileFormat struct {
	Entries []Entry `yaml:"entries"`
}

// Store 维护配置条目，path 非空时持久化到 YAML 文件。
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
	sinks   []EventSink
	nextSeq uint64

	// 事件按提交顺序投递：每次提交在 mu 内取序号，锁外按序号依次通知
	emitMu     sync.Mutex
	emitCond   *sync.Cond
	emittedSeq uint64

	now func() time.Time
}

// Open 加载 path 中的条目；文件不存在时返回空 Store。path 为空则只保存在内存中。
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	s.emitCond = sync.NewCond(&s.emitMu)
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	for _, e := range f.Entries {
		if e.ID == "" || e.Domain == "" {
			return nil, fmt.Errorf("store entry missing entry_id or domain")
		}
		s.entries[e.ID] = e
	}
	return s, nil
}

// Subscribe 注册变更回调，回调在锁外按注册顺序调用。
// 多次提交的事件按提交顺序送达；回调中不能再修改 Store。
func (s *Store) Subscribe(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Lookup 返回 domain 对应的条目
func (s *Store) Lookup(domain string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Domain == domain {
			return cloneEntry(e), true
		}
	}
	return Entry{}, false
}

// Get 按 ID 返回条目
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

// Entries 按创建时间返回全部条目
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Create 新建条目；domain 已存在时返回 ErrAlreadyConfigured。
func (s *Store) Create(domain, title string, version int, data, options map[string]interface{}) (Entry, error) {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.Domain == domain {
			s.mu.Unlock()
			return Entry{}, ErrAlreadyConfigured
		}
	}
	now := s.now().UTC()
	e := Entry{
		ID:        uuid.New().String(),
		Domain:    domain,
		Title:     title,
		Version:   version,
		Data:      copyMap(data),
		Options:   copyMap(options),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[e.ID] = e
	if err := s.persistLocked(); err != nil {
		delete(s.entries, e.ID)
		s.mu.Unlock()
		return Entry{}, err
	}
	sinks, seq := s.ticketLocked()
	s.mu.Unlock()

	s.emit(seq, sinks, "entry_created", e)
	return cloneEntry(e), nil
}

// UpdateOptions 整体替换条目的 options
func (s *Store) UpdateOptions(id string, options map[string]interface{}) (Entry, error) {
	s.mu.Lock()
	prev, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	e := prev
	e.Options = copyMap(options)
	e.UpdatedAt = s.now().UTC()
	s.entries[id] = e
	if err := s.persistLocked(); err != nil {
		s.entries[id] = prev
		s.mu.Unlock()
		return Entry{}, err
	}
	sinks, seq := s.ticketLocked()
	s.mu.Unlock()

	s.emit(seq, sinks, "options_updated", e)
	return cloneEntry(e), nil
}

// SipConfig 返回 domain 条目中生效的 sip_config；没有条目或选项时返回默认配置。
func (s *Store) SipConfig(domain string) (sipconfig.SipConfiguration, error) {
	e, ok := s.Lookup(domain)
	if !ok {
		return sipconfig.Default(), nil
	}
	raw, ok := e.Options[sipconfig.OptionKey]
	if !ok {
		return sipconfig.Default(), nil
	}
	return sipconfig.Validate(raw)
}

// ticketLocked 为一次已提交的修改分配投递序号，调用方持有 mu
func (s *Store) ticketLocked() ([]EventSink, uint64) {
	s.nextSeq++
	return s.sinks, s.nextSeq
}

// emit 等前一个序号的事件送达后再通知，保证订阅者看到的最后一个事件就是最新状态
func (s *Store) emit(seq uint64, sinks []EventSink, event string, e Entry) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for s.emittedSeq != seq-1 {
		s.emitCond.Wait()
	}
	for _, sink := range sinks {
		sink(event, cloneEntry(e))
	}
	s.emittedSeq = seq
	s.emitCond.Broadcast()
}

// persistLocked 先写临时文件再 rename，避免写一半的文件
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	f := fileFormat{Entries: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		f.Entries = append(f.Entries, e)
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].CreatedAt.Before(f.Entries[j].CreatedAt) })

	raw, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".entries-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func cloneEntry(e Entry) Entry {
	e.Data = copyMap(e.Data)
	e.Options = copyMap(e.Options)
	return e
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
