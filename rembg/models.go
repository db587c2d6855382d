package rembg

import (
	"fmt"
	"strings"
)

// Model 一个托管的背景去除模型
type Model struct {
	ID          string         `json:"id" mapstructure:"id"`
	Name        string         `json:"name" mapstructure:"name"`
	Version     string         `json:"version" mapstructure:"version"`
	Description string         `json:"description" mapstructure:"description"`
	BestFor     string         `json:"bestFor" mapstructure:"best_for"`
	Color       string         `json:"color" mapstructure:"color"`
	InputKey    string         `json:"inputKey,omitempty" mapstructure:"input_key"`
	Params      map[string]any `json:"params,omitempty" mapstructure:"params"`
}

// Input 组装 prediction 的 input，图片放在 InputKey 下（默认 image）
func (m Model) Input(image string) map[string]any {
	key := m.InputKey
	if key == "" {
		key = "image"
	}
	input := make(map[string]any, len(m.Params)+1)
	for k, v := range m.Params {
		input[k] = v
	}
	input[key] = image
	return input
}

// DefaultModels 默认的对比模型
func DefaultModels() []Model {
	return []Model{
		{
			ID:          "rembg",
			Name:        "Rembg",
			Version:     "fb8af171cfa1616ddcf1242c093f9c46bcada5ad4cf6f2fbe8b81b330ec5c003",
			Description: "U2-Net based general purpose remover",
			BestFor:     "Simple backgrounds, quick cutouts",
			Color:       "#22c55e",
		},
		{
			ID:          "remove-bg",
			Name:        "Remove BG",
			Version:     "95fcc2a26d3899cd6c2691c900465aaeff466285a65c14638cc5f36f34befaf1",
			Description: "Transparent background model tuned for people and products",
			BestFor:     "Portraits, e-commerce",
			Color:       "#3b82f6",
		},
		{
			ID:          "birefnet",
			Name:        "BiRefNet",
			Version:     "f74986db0355b58403ed20963af156525e2891ea3c2d499bfbfb2a28cd87c5d7",
			Description: "Bilateral reference network for high resolution segmentation",
			BestFor:     "Hair, fur, fine details",
			Color:       "#a855f7",
		},
		{
			ID:          "background-remover",
			Name:        "Background Remover",
			Version:     "a029dff38972b5fda4ec5d75d7d1cd25aeff621d2cf4946a41055d7db66b80bc",
			Description: "InSPyReNet based remover with clean edges",
			BestFor:     "Cartoons, illustrations, complex scenes",
			Color:       "#f97316",
		},
	}
}

type Registry struct {
	models []Model
	byID   map[string]int
}

// NewRegistry 校验模型列表：id 和 version 必填且 id 唯一；为空时用默认列表
func NewRegistry(models []Model) (*Registry, error) {
	if len(models) == 0 {
		models = DefaultModels()
	}
	r := &Registry{byID: make(map[string]int, len(models))}
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" || m.Version == "" {
			return nil, fmt.Errorf("model %q: id and version are required", m.Name)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate id", m.ID)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		r.byID[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	return r, nil
}

// Models 按注册顺序返回副本
func (r *Registry) Models() []Model {
	return append([]Model(nil), r.models...)
}

func (r *Registry) Lookup(id string) (Model, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Model{}, false
	}
	return r.models[i], true
}

// Select 按 id 选出子集；ids 为空时返回全部
func (r *Registry) Select(ids []string) ([]Model, error) {
	if len(ids) == 0 {
		return r.Models(), nil
	}
	out := make([]Model, 0, len(ids))
	for _, id := range ids {
		m, ok := r.Lookup(strings.TrimSpace(id))
		if !ok {
			return nil, fmt.Errorf("unknown model %q", id)
		}
		out = append(out, m)
	}
	return out, nil
}
