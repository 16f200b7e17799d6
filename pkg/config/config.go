package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Model      ModelConfig
	Reputation ReputationConfig
	Detection  DetectionConfig
	Feedback   FeedbackConfig
	Retrain    RetrainConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	RateLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type ModelConfig struct {
	Endpoint   string
	TimeoutSec int
}

type ReputationConfig struct {
	Enabled     bool
	BaseURL     string
	APIKey      string
	TimeoutSec  int
	CacheTTLSec int
}

// DetectionConfig holds the heuristic rule point values and firing
// thresholds. Each indicator contributes its fixed point value when it
// fires; the summed sub-score is capped at 40.
type DetectionConfig struct {
	URLLengthPoints      float64
	HyphenCountPoints    float64
	IPPresencePoints     float64
	KeywordPoints        float64
	SubdomainDepthPoints float64
	SuspiciousTLDPoints  float64
	BrandSpoofPoints     float64
	NoHTTPSPoints        float64

	LengthThreshold    int
	HyphenThreshold    int
	SubdomainThreshold int
}

// FeedbackConfig holds the validation scoring knobs. The numeric weights are
// tunable policy, not invariants of the pipeline.
type FeedbackConfig struct {
	WellFormedURLPoints   int
	HighConfidencePoints  int
	ExpertPoints          int
	IntermediatePoints    int
	CommentPoints         int
	ConsistencyPoints     int
	HighConfidenceMin     int
	LowConfidenceMax      int
	MinCommentWords       int
	AutoApproveScore      int
	AutoApproveConfidence int
}

// DefaultDetection returns the documented indicator point values. The spread
// is tuned so a single strong indicator cannot cross the phishing threshold
// alone but brand spoofing plus one supporting signal can.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		URLLengthPoints:      4.0,
		HyphenCountPoints:    3.0,
		IPPresencePoints:     8.0,
		KeywordPoints:        7.5,
		SubdomainDepthPoints: 4.0,
		SuspiciousTLDPoints:  6.0,
		BrandSpoofPoints:     20.0,
		NoHTTPSPoints:        5.0,
		LengthThreshold:      75,
		HyphenThreshold:      3,
		SubdomainThreshold:   3,
	}
}

// DefaultFeedback returns the documented validation scoring policy.
func DefaultFeedback() FeedbackConfig {
	return FeedbackConfig{
		WellFormedURLPoints:   2,
		HighConfidencePoints:  2,
		ExpertPoints:          2,
		IntermediatePoints:    1,
		CommentPoints:         2,
		ConsistencyPoints:     2,
		HighConfidenceMin:     4,
		LowConfidenceMax:      2,
		MinCommentWords:       4,
		AutoApproveScore:      5,
		AutoApproveConfidence: 4,
	}
}

type RetrainConfig struct {
	Threshold  int
	Endpoint   string
	TimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/phishguard")

	viper.SetEnvPrefix("PHISHGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.rateLimit", 60)

	viper.SetDefault("sqlite.path", "./data/phishguard.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("model.endpoint", "http://localhost:8501")
	viper.SetDefault("model.timeoutSec", 5)

	viper.SetDefault("reputation.enabled", false)
	viper.SetDefault("reputation.baseURL", "https://www.virustotal.com/vtapi/v2")
	viper.SetDefault("reputation.timeoutSec", 10)
	viper.SetDefault("reputation.cacheTTLSec", 3600)

	detection := DefaultDetection()
	viper.SetDefault("detection.urlLengthPoints", detection.URLLengthPoints)
	viper.SetDefault("detection.hyphenCountPoints", detection.HyphenCountPoints)
	viper.SetDefault("detection.ipPresencePoints", detection.IPPresencePoints)
	viper.SetDefault("detection.keywordPoints", detection.KeywordPoints)
	viper.SetDefault("detection.subdomainDepthPoints", detection.SubdomainDepthPoints)
	viper.SetDefault("detection.suspiciousTLDPoints", detection.SuspiciousTLDPoints)
	viper.SetDefault("detection.brandSpoofPoints", detection.BrandSpoofPoints)
	viper.SetDefault("detection.noHTTPSPoints", detection.NoHTTPSPoints)
	viper.SetDefault("detection.lengthThreshold", detection.LengthThreshold)
	viper.SetDefault("detection.hyphenThreshold", detection.HyphenThreshold)
	viper.SetDefault("detection.subdomainThreshold", detection.SubdomainThreshold)

	feedback := DefaultFeedback()
	viper.SetDefault("feedback.wellFormedURLPoints", feedback.WellFormedURLPoints)
	viper.SetDefault("feedback.highConfidencePoints", feedback.HighConfidencePoints)
	viper.SetDefault("feedback.expertPoints", feedback.ExpertPoints)
	viper.SetDefault("feedback.intermediatePoints", feedback.IntermediatePoints)
	viper.SetDefault("feedback.commentPoints", feedback.CommentPoints)
	viper.SetDefault("feedback.consistencyPoints", feedback.ConsistencyPoints)
	viper.SetDefault("feedback.highConfidenceMin", feedback.HighConfidenceMin)
	viper.SetDefault("feedback.lowConfidenceMax", feedback.LowConfidenceMax)
	viper.SetDefault("feedback.minCommentWords", feedback.MinCommentWords)
	viper.SetDefault("feedback.autoApproveScore", feedback.AutoApproveScore)
	viper.SetDefault("feedback.autoApproveConfidence", feedback.AutoApproveConfidence)

	viper.SetDefault("retrain.threshold", 50)
	viper.SetDefault("retrain.endpoint", "http://localhost:8502/retrain")
	viper.SetDefault("retrain.timeoutSec", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
