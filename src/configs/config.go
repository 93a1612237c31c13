package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP   string `yaml:"ip"`
		Port int    `yaml:"port"`
		Auth struct {
			Enabled bool   `yaml:"enabled"`
			Secret  string `yaml:"secret"`
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Enabled   bool   `yaml:"enabled"`
		Port      int    `yaml:"port"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"web"`

	// 保存上传图片的目录，留空则不落盘
	UploadDir string `yaml:"upload_dir"`

	SelectedModule map[string]string `yaml:"selected_module"`

	CNN   map[string]CNNConfig   `yaml:"CNN"`
	Embed map[string]EmbedConfig `yaml:"Embed"`

	Fusion   FusionConfig     `yaml:"fusion"`
	Taxonomy []CategoryConfig `yaml:"taxonomy"`
	Security SecurityConfig   `yaml:"security"`
	Task     TaskConfig       `yaml:"task"`

	ConnectivityCheck ConnectivityCheckConfig `yaml:"connectivity_check"`
}

// ConnectivityCheckConfig 启动时模型连通性检查配置
type ConnectivityCheckConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Timeout       string `yaml:"timeout"`        // 单次检查超时，如 "30s"
	RetryAttempts int    `yaml:"retry_attempts"` // 失败重试次数
	RetryDelay    string `yaml:"retry_delay"`    // 重试间隔，如 "5s"
}

// CNNConfig CNN分类模型配置结构
type CNNConfig struct {
	Type        string                 `yaml:"type"`         // 后端类型：opencv, modelserve
	ModelPath   string                 `yaml:"model_path"`   // 本地模型文件（opencv后端）
	ConfigPath  string                 `yaml:"config_path"`  // 可选的网络配置文件
	BaseURL     string                 `yaml:"url"`          // 推理服务地址（modelserve后端）
	ModelName   string                 `yaml:"model_name"`   // 远端模型名
	InputWidth  int                    `yaml:"input_width"`  // 输入宽度
	InputHeight int                    `yaml:"input_height"` // 输入高度
	Mean        []float64              `yaml:"mean"`         // 各通道归一化均值
	Std         []float64              `yaml:"std"`          // 各通道归一化标准差
	Timeout     string                 `yaml:"timeout"`      // 单次调用超时，如 "10s"
	Extra       map[string]interface{} `yaml:",inline"`
}

// EmbedConfig 图文嵌入模型配置结构
type EmbedConfig struct {
	Type        string                 `yaml:"type"`         // 后端类型：openai, clipserver
	ModelName   string                 `yaml:"model_name"`   // 嵌入模型名
	BaseURL     string                 `yaml:"url"`          // API地址
	APIKey      string                 `yaml:"api_key"`      // API密钥
	InputWidth  int                    `yaml:"input_width"`  // 输入宽度
	InputHeight int                    `yaml:"input_height"` // 输入高度
	Timeout     string                 `yaml:"timeout"`      // 单次调用超时
	Extra       map[string]interface{} `yaml:",inline"`
}

// FusionConfig 决策融合参数，均有默认值
type FusionConfig struct {
	CNNWeight              float64 `yaml:"cnn_weight"`               // 默认 0.5
	EmbedWeight            float64 `yaml:"embed_weight"`             // 默认 0.5
	Temperature            float64 `yaml:"temperature"`              // 嵌入softmax温度，默认 1.0
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"` // 默认 0.6
	AmbiguityMargin        float64 `yaml:"ambiguity_margin"`         // 默认 0.05
}

// CategoryConfig 类别表条目
type CategoryConfig struct {
	ID      string   `yaml:"id"`
	Label   string   `yaml:"label"`
	Prompts []string `yaml:"prompts"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度
	MaxHeight      int      `yaml:"max_height"`       // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用深度安全扫描
}

// TaskConfig 分类工作池配置
type TaskConfig struct {
	MaxWorkers        int `yaml:"max_workers"`
	MaxTasksPerClient int `yaml:"max_tasks_per_client"`
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	return config, path, nil
}
