package config

import (
	_ "embed"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Camera    CameraConfig
	Face      FaceConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Robot     RobotConfig
	Orders    OrdersConfig
	Chat      ChatConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Web       WebConfig
}

type CameraConfig struct {
	Index         int           // capture device index (default 0)
	Width         int           // requested frame width (default 640)
	Height        int           // requested frame height (default 480)
	FPS           int           // requested device frame rate (default 30)
	FrameInterval time.Duration // pacing between streamed frames (default 33ms)
	JPEGQuality   int           // stream JPEG quality (default 85)
	CascadePath   string        // Haar cascade XML for the local detector; empty uses the embedding server
}

type FaceConfig struct {
	MatchThreshold float64       // minimum similarity in [0,1] to accept a match (default 0.6)
	SessionTimeout time.Duration // absence grace period before logout (default 5s)
	MinUserIDLen   int           // minimum trimmed user id length (default 2)
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Dim   int    // defaults to 512
	Model string // reported model name
}

type DatabaseConfig struct {
	URL           string        // PostgreSQL connection URL; empty selects the in-memory store
	MaxOpenConns  int           // Maximum open connections (default 25)
	MaxIdleConns  int           // Maximum idle connections (default 5)
	QueryTimeout  time.Duration // bound for a single store query (default 2s)
	HNSWIndexPath string        // Path to persist the identity HNSW index (optional)
}

type RobotConfig struct {
	Host        string
	Port        int
	Timeout     time.Duration
	BufferSize  int
	TestMessage string `yaml:"test_message"`
}

type OrdersConfig struct {
	Markers []string `yaml:"markers"`
}

type ChatConfig struct {
	Provider     string  // "openai" or "gemini"; empty picks whichever key is set
	OpenAIModel  string  `yaml:"openai_model"`
	GeminiModel  string  `yaml:"gemini_model"`
	Temperature  float64 `yaml:"temperature"`
	MaxHistory   int     `yaml:"max_history"`
	SystemPrompt string  `yaml:"system_prompt"`
	ErrorReply   string  `yaml:"error_reply"`
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // extra CORS origins; localhost is always allowed
}

type defaults struct {
	Chat   ChatConfig   `yaml:"chat"`
	Orders OrdersConfig `yaml:"orders"`
	Robot  RobotConfig  `yaml:"robot"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envIntZero is envInt that also accepts zero (camera index 0 is valid).
func envIntZero(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("250ms") or plain seconds ("3", "0.5").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Camera: CameraConfig{
			Index:         envIntZero("CAMERA_INDEX", 0),
			Width:         envInt("CAMERA_WIDTH", 640),
			Height:        envInt("CAMERA_HEIGHT", 480),
			FPS:           envInt("CAMERA_FPS", 30),
			FrameInterval: envDuration("CAMERA_FRAME_INTERVAL", 33*time.Millisecond),
			JPEGQuality:   envInt("CAMERA_JPEG_QUALITY", 85),
			CascadePath:   os.Getenv("FACE_CASCADE_PATH"),
		},
		Face: FaceConfig{
			MatchThreshold: envFloat("FACE_MATCH_THRESHOLD", 0.6),
			SessionTimeout: envDuration("FACE_SESSION_TIMEOUT", 5*time.Second),
			MinUserIDLen:   envInt("FACE_MIN_USER_ID_LEN", 2),
		},
		Embedding: EmbeddingConfig{
			URL:   envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:   envInt("EMBEDDING_DIM", 512),
			Model: envString("EMBEDDING_MODEL", "buffalo_l"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			QueryTimeout:  envDuration("DATABASE_QUERY_TIMEOUT", 2*time.Second),
			HNSWIndexPath: os.Getenv("IDENTITY_INDEX_PATH"),
		},
		Robot: RobotConfig{
			Host:        envString("ROBOT_HOST", "192.168.1.100"),
			Port:        envInt("ROBOT_PORT", 8888),
			Timeout:     envDuration("ROBOT_TIMEOUT", 5*time.Second),
			BufferSize:  envInt("ROBOT_BUFFER_SIZE", 1024),
			TestMessage: envString("ROBOT_TEST_MESSAGE", d.Robot.TestMessage),
		},
		Orders: OrdersConfig{
			Markers: envList("ORDER_MARKERS", d.Orders.Markers),
		},
		Chat: ChatConfig{
			Provider:     strings.ToLower(os.Getenv("CHAT_PROVIDER")),
			OpenAIModel:  envString("OPENAI_MODEL", d.Chat.OpenAIModel),
			GeminiModel:  envString("GEMINI_MODEL", d.Chat.GeminiModel),
			Temperature:  envFloat("CHAT_TEMPERATURE", d.Chat.Temperature),
			MaxHistory:   envInt("CHAT_MAX_HISTORY", d.Chat.MaxHistory),
			SystemPrompt: envString("CHAT_SYSTEM_PROMPT", d.Chat.SystemPrompt),
			ErrorReply:   d.Chat.ErrorReply,
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", nil),
		},
	}
}

// RobotAddr returns the host:port of the robot control PC.
func (c *RobotConfig) RobotAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
