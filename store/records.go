package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/session"
)

// Categories 记录的分类
var Categories = []string{
	"Portrait",
	"E-commerce",
	"Cartoon",
	"Animals",
	"Complex",
	"Fine-Details",
	"VFX",
	"Transparent",
	"Challenging",
}

var (
	ErrMissingCategory = errors.New("category is required")
	ErrMissingName     = errors.New("name is required")
	ErrNoOutputs       = errors.New("at least one model output is required")
)

// Record 保存下来的一次对比，创建后只能整体删除
type Record struct {
	ID            string                    `json:"id"`
	Category      string                    `json:"category"`
	Name          string                    `json:"name"`
	Notes         string                    `json:"notes"`
	ImageAnalysis string                    `json:"imageAnalysis"`
	Scores        map[string]session.Score  `json:"scores"`
	Results       map[string]rembg.ModelJob `json:"results"`
	ImageURL      string                    `json:"imageUrl"`
	Timestamp     time.Time                 `json:"timestamp"`
}

// Validate 分类、名称必填，且至少一个模型成功产出
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return ErrMissingCategory
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	for _, j := range r.Results {
		if len(j.Result()) > 0 {
			return nil
		}
	}
	return ErrNoOutputs
}

// RecordStore 记录列表整体存在 RecordsKey 下，新记录在前
type RecordStore struct {
	kv  KeyValueStore
	mu  sync.Mutex
	now func() time.Time
}

func NewRecordStore(kv KeyValueStore) *RecordStore {
	return &RecordStore{kv: kv, now: time.Now}
}

func (s *RecordStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	r.ID = ksuid.New().String()
	r.Timestamp = s.now().UTC()
	if r.Scores == nil {
		r.Scores = map[string]session.Score{}
	}
	list = append([]Record{r}, list...)
	if err := s.save(ctx, list); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *RecordStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *RecordStore) Get(ctx context.Context, id string) (Record, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Record{}, err
	}
	i := slices.IndexFunc(list, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return Record{}, ErrNotFound
	}
	return list[i], nil
}

func (s *RecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	n := len(list)
	list = slices.DeleteFunc(list, func(r Record) bool { return r.ID == id })
	if len(list) == n {
		return ErrNotFound
	}
	return s.save(ctx, list)
}

func (s *RecordStore) load(ctx context.Context) ([]Record, error) {
	raw, err := s.kv.Get(ctx, RecordsKey)
	if errors.Is(err, ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Record
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, storageErr("decode", RecordsKey, err)
	}
	if list == nil {
		list = []Record{}
	}
	return list, nil
}

func (s *RecordStore) save(ctx context.Context, list []Record) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	return s.kv.Set(ctx, RecordsKey, raw)
}
