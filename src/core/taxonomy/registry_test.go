package taxonomy

import (
	"errors"
	"testing"

	"waste-vision-go/src/configs"
	"waste-vision-go/src/core/types"
)

func TestNewRegistryOrdering(t *testing.T) {
	entries := []configs.CategoryConfig{
		{ID: "recyclable", Label: "可回收物", Prompts: []string{"a photo of recyclable waste"}},
		{ID: "organic", Label: "厨余垃圾", Prompts: []string{"a photo of food waste"}},
		{ID: "hazardous", Label: "有害垃圾", Prompts: []string{"a photo of hazardous waste"}},
	}

	registry, err := NewRegistry(entries, true)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	wantIDs := []string{"recyclable", "organic", "hazardous"}
	gotIDs := registry.IDs()
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("IDs() 长度 = %d, want %d", len(gotIDs), len(wantIDs))
	}
	for i, id := range wantIDs {
		if gotIDs[i] != id {
			t.Errorf("IDs()[%d] = %s, want %s", i, gotIDs[i], id)
		}
		pos, ok := registry.Position(id)
		if !ok || pos != i {
			t.Errorf("Position(%s) = %d,%v, want %d,true", id, pos, ok, i)
		}
	}

	cat, ok := registry.Get("organic")
	if !ok || cat.Label != "厨余垃圾" {
		t.Errorf("Get(organic) = %+v,%v", cat, ok)
	}
	if _, ok := registry.Get("unknown"); ok {
		t.Error("Get(unknown) 不应命中")
	}
}

func TestNewRegistryDuplicateID(t *testing.T) {
	entries := []configs.CategoryConfig{
		{ID: "plastic", Prompts: []string{"p1"}},
		{ID: "plastic", Prompts: []string{"p2"}},
	}

	_, err := NewRegistry(entries, true)
	var dupErr *types.DuplicateCategoryError
	if !errors.As(err, &dupErr) {
		t.Fatalf("NewRegistry() error = %v, want DuplicateCategoryError", err)
	}
	if dupErr.ID != "plastic" {
		t.Errorf("DuplicateCategoryError.ID = %s, want plastic", dupErr.ID)
	}
}

func TestNewRegistryEmptyPrompts(t *testing.T) {
	entries := []configs.CategoryConfig{
		{ID: "glass", Label: "玻璃"},
	}

	// 启用嵌入模型时空提示词集合是配置错误
	_, err := NewRegistry(entries, true)
	var promptErr *types.EmptyPromptSetError
	if !errors.As(err, &promptErr) {
		t.Fatalf("NewRegistry() error = %v, want EmptyPromptSetError", err)
	}

	// 未启用嵌入模型时允许空提示词
	registry, err := NewRegistry(entries, false)
	if err != nil {
		t.Fatalf("NewRegistry(embedEnabled=false) error = %v", err)
	}
	if registry.Size() != 1 {
		t.Errorf("Size() = %d, want 1", registry.Size())
	}
}

func TestNewRegistryInvalidEntries(t *testing.T) {
	if _, err := NewRegistry(nil, false); err == nil {
		t.Error("空类别表应报错")
	}
	if _, err := NewRegistry([]configs.CategoryConfig{{ID: ""}}, false); err == nil {
		t.Error("空类别ID应报错")
	}
}

func TestRegistryPromptIsolation(t *testing.T) {
	prompts := []string{"a photo of metal waste"}
	entries := []configs.CategoryConfig{{ID: "metal", Prompts: prompts}}

	registry, err := NewRegistry(entries, true)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	// 类别表加载后不可变，改原切片不影响注册内容
	prompts[0] = "changed"
	cat, _ := registry.Get("metal")
	if cat.Prompts[0] != "a photo of metal waste" {
		t.Error("类别表不应与配置切片共享内存")
	}
}
