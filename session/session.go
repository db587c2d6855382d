// Package session 一次对比会话的内存状态
//
// 所有修改都经过 Session 的方法完成，每组字段只有一个写入入口；
// 读取方通过 Snapshot 拿到深拷贝，快照可能以任意顺序到达。
package session

import (
	"errors"
	"image"
	"maps"
	"sync"
	"time"

	"github.com/chaos-io/bgcompare/chroma"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/replicate"
)

var (
	ErrNoImage      = errors.New("session has no image")
	ErrRunActive    = errors.New("comparison already running")
	ErrNoReference  = errors.New("reference color not set")
	ErrUnknownModel = errors.New("unknown model")
)

type Session struct {
	ID string

	mu        sync.RWMutex
	imageURL  string
	buffer    *chroma.NRGBABuffer
	reference *chroma.Color
	tolerance int
	manual    string
	jobs      map[string]rembg.ModelJob
	scores    map[string]Score
	running   bool
	saved     bool
	createdAt time.Time
	updatedAt time.Time
}

// Snapshot 会话的只读副本
type Snapshot struct {
	ID           string                    `json:"id"`
	ImageURL     string                    `json:"imageUrl"`
	Width        int                       `json:"width"`
	Height       int                       `json:"height"`
	Reference    *chroma.Color             `json:"reference"`
	Tolerance    int                       `json:"tolerance"`
	ManualResult string                    `json:"manualResult,omitempty"`
	Results      map[string]rembg.ModelJob `json:"results"`
	Scores       map[string]Score          `json:"scores"`
	Running      bool                      `json:"running"`
	Saved        bool                      `json:"saved"`
	Unsaved      bool                      `json:"hasUnsavedResults"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

func New(id string, tolerance int) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		tolerance: tolerance,
		jobs:      map[string]rembg.ModelJob{},
		scores:    map[string]Score{},
		saved:     true,
		createdAt: now,
		updatedAt: now,
	}
}

// SetImage 换图：清空结果、打分、手动结果和参考色
func (s *Session) SetImage(imageURL string, img image.Image) {
	buf := chroma.FromImage(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageURL = imageURL
	s.buffer = buf
	s.reference = nil
	s.manual = ""
	s.jobs = map[string]rembg.ModelJob{}
	s.scores = map[string]Score{}
	s.saved = true
	s.touch()
}

// Buffer 原图像素，调用方不能修改
func (s *Session) Buffer() (*chroma.NRGBABuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buffer == nil {
		return nil, ErrNoImage
	}
	return s.buffer, nil
}

func (s *Session) ImageURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageURL
}

func (s *Session) SetReference(c *chroma.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		cp := *c
		c = &cp
	}
	s.reference = c
	s.touch()
}

func (s *Session) Reference() (chroma.Color, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reference == nil {
		return chroma.Color{}, false
	}
	return *s.reference, true
}

func (s *Session) SetTolerance(t int) error {
	if err := chroma.ValidateTolerance(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tolerance = t
	s.touch()
	return nil
}

func (s *Session) Tolerance() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tolerance
}

// SetManualResult 保存手动抠图结果（data URI），不自动持久化
func (s *Session) SetManualResult(dataURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual = dataURI
	s.touch()
}

// BeginRun 开始一次对比：清空上一次的结果；已有对比在跑时返回 ErrRunActive
func (s *Session) BeginRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return ErrNoImage
	}
	if s.running {
		return ErrRunActive
	}
	s.running = true
	s.jobs = map[string]rembg.ModelJob{}
	s.touch()
	return nil
}

// EndRun 对比结束，有新结果时标记为未保存
func (s *Session) EndRun(results map[string]rembg.ModelJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range results {
		s.jobs[id] = job
	}
	s.running = false
	s.saved = false
	s.touch()
}

// UpdateJob 单个模型的更新入口，作为 RunAll 的 onUpdate 使用
// 已经是终态的模型不会被迟到的中间快照覆盖
func (s *Session) UpdateJob(job rembg.ModelJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[job.ModelID]; ok && prev.Terminal() && !job.Terminal() {
		return
	}
	s.jobs[job.ModelID] = job
	s.touch()
}

func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetScore 打分并计算 overall
func (s *Session) SetScore(modelID string, score Score) (Score, error) {
	if !score.Valid() {
		return Score{}, errors.New("score values must be between 0 and 10")
	}
	score = score.WithOverall()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[modelID]; !ok {
		return Score{}, ErrUnknownModel
	}
	s.scores[modelID] = score
	s.touch()
	return score, nil
}

// ResetJobs 清空上一次对比的结果和打分
func (s *Session) ResetJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = map[string]rembg.ModelJob{}
	s.scores = map[string]Score{}
	s.touch()
}

func (s *Session) MarkUnsaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = false
	s.touch()
}

// MarkSaved 保存成功后清空打分
func (s *Session) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = true
	s.scores = map[string]Score{}
	s.touch()
}

// HasUnsavedResults 有模型产出结果且还没保存
func (s *Session) HasUnsavedResults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasUnsaved()
}

func (s *Session) hasUnsaved() bool {
	return !s.saved && s.hasOutputs()
}

func (s *Session) hasOutputs() bool {
	for _, j := range s.jobs {
		if j.Status == replicate.StatusSucceeded && len(j.Output) > 0 {
			return true
		}
	}
	return false
}

// HasOutputs 至少一个模型成功产出
func (s *Session) HasOutputs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasOutputs()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:           s.ID,
		ImageURL:     s.imageURL,
		Tolerance:    s.tolerance,
		ManualResult: s.manual,
		Results:      make(map[string]rembg.ModelJob, len(s.jobs)),
		Scores:       maps.Clone(s.scores),
		Running:      s.running,
		Saved:        s.saved,
		Unsaved:      s.hasUnsaved(),
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.buffer != nil {
		snap.Width, snap.Height = s.buffer.Width(), s.buffer.Height()
	}
	if s.reference != nil {
		c := *s.reference
		snap.Reference = &c
	}
	for id, j := range s.jobs {
		j.Output = append([]string(nil), j.Output...)
		snap.Results[id] = j
	}
	return snap
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}
