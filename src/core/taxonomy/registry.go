package taxonomy

import (
	"fmt"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/types"
)

// Category 垃圾类别条目
type Category struct {
	ID      string   // 稳定标识符
	Label   string   // 人类可读标签
	Prompts []string // 嵌入模型使用的自然语言提示词
}

// Registry 类别表注册中心
// 进程启动时加载一次，之后只读，并发访问无需加锁
// 任何类别变更都需要整体重新加载，保证在途得分向量的内部一致性
type Registry struct {
	categories []Category
	index      map[string]int
}

// NewRegistry 从配置条目构建类别表
// embedEnabled 为真时要求每个类别至少有一个提示词
func NewRegistry(entries []configs.CategoryConfig, embedEnabled bool) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("类别表为空")
	}

	r := &Registry{
		categories: make([]Category, 0, len(entries)),
		index:      make(map[string]int, len(entries)),
	}

	for _, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("类别ID不能为空")
		}
		if _, exists := r.index[entry.ID]; exists {
			return nil, &types.DuplicateCategoryError{ID: entry.ID}
		}
		if embedEnabled && len(entry.Prompts) == 0 {
			return nil, &types.EmptyPromptSetError{ID: entry.ID}
		}

		prompts := make([]string, len(entry.Prompts))
		copy(prompts, entry.Prompts)

		r.index[entry.ID] = len(r.categories)
		r.categories = append(r.categories, Category{
			ID:      entry.ID,
			Label:   entry.Label,
			Prompts: prompts,
		})
	}

	return r, nil
}

// Get 按ID查询类别
func (r *Registry) Get(id string) (Category, bool) {
	i, ok := r.index[id]
	if !ok {
		return Category{}, false
	}
	return r.categories[i], true
}

// Position 返回类别的声明顺序位置，决策引擎的平局裁决使用
func (r *Registry) Position(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Categories 按声明顺序枚举全部类别
func (r *Registry) Categories() []Category {
	return r.categories
}

// IDs 按声明顺序返回全部类别ID
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.categories))
	for i, c := range r.categories {
		ids[i] = c.ID
	}
	return ids
}

// Size 类别数量
func (r *Registry) Size() int {
	return len(r.categories)
}
