package types

import "fmt"

// InvalidImageError 图片数据无效：零尺寸、不支持的通道布局或无法解码
type InvalidImageError struct {
	Reason string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("无效的图片数据: %s", e.Reason)
}

// ModelUnavailableError 底层模型无法调用：未加载、连接失败或单次调用超时
// 只影响当前请求，不影响其它在途请求
type ModelUnavailableError struct {
	Provider string
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("模型不可用[%s]: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("模型不可用[%s]", e.Provider)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// ShapeMismatchError 模型输出维度与类别表大小不一致
type ShapeMismatchError struct {
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("模型输出维度不匹配: 期望 %d, 实际 %d", e.Want, e.Got)
}

// EmptyScoreVectorError 得分向量为空或两个来源的类别集合不一致
// 属于集成层编程错误，直接上抛，不做默认值兜底
type EmptyScoreVectorError struct {
	Detail string
}

func (e *EmptyScoreVectorError) Error() string {
	return fmt.Sprintf("得分向量无效: %s", e.Detail)
}

// DuplicateCategoryError 类别表中出现重复ID，加载时报错
type DuplicateCategoryError struct {
	ID string
}

func (e *DuplicateCategoryError) Error() string {
	return fmt.Sprintf("重复的类别ID: %s", e.ID)
}

// EmptyPromptSetError 启用嵌入评分时类别缺少提示词
type EmptyPromptSetError struct {
	ID string
}

func (e *EmptyPromptSetError) Error() string {
	return fmt.Sprintf("类别 %s 缺少提示词", e.ID)
}
