package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/temcen/homerec/internal/features"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Mode string `mapstructure:"mode" validate:"oneof=development production test"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections" validate:"gt=0"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig has one instance for the neighbor-lookup cache and one for pass
// job tracking. They may point at the same server.
type RedisConfig struct {
	Cache RedisInstanceConfig `mapstructure:"cache"`
	Jobs  RedisInstanceConfig `mapstructure:"jobs"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	MaxRetries    int      `mapstructure:"max_retries" validate:"gte=0"`
	Topics        struct {
		PassTriggers    string `mapstructure:"pass_triggers"`
		PassTriggersDLQ string `mapstructure:"pass_triggers_dlq"`
	} `mapstructure:"topics"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	AdminRole string        `mapstructure:"admin_role"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// RecommendationConfig tunes the similarity passes and the blender.
type RecommendationConfig struct {
	ReadTimeout    time.Duration            `mapstructure:"read_timeout" validate:"gt=0"`
	BatchSize      int                      `mapstructure:"batch_size" validate:"gt=0"`
	BehaviorWindow time.Duration            `mapstructure:"behavior_window" validate:"gt=0"`
	EdgeRetention  time.Duration            `mapstructure:"edge_retention" validate:"gt=0"`
	Property       PropertySimilarityConfig `mapstructure:"property"`
	User           UserSimilarityConfig     `mapstructure:"user"`
	Blend          BlendConfig              `mapstructure:"blend"`
	Encoding       features.EncodingTables  `mapstructure:"encoding"`
	Caching        CachingConfig            `mapstructure:"caching"`
}

type PropertySimilarityConfig struct {
	ContentThreshold  float64 `mapstructure:"content_threshold" validate:"gte=0,lte=1"`
	BehaviorThreshold float64 `mapstructure:"behavior_threshold" validate:"gte=0,lte=1"`
	// FeatureWeights is stored with every content edge as an explanation.
	// The cosine itself is unweighted.
	FeatureWeights map[string]float64 `mapstructure:"feature_weights"`
}

type UserSimilarityConfig struct {
	PearsonThreshold   float64            `mapstructure:"pearson_threshold" validate:"gte=0,lte=1"`
	ContentThreshold   float64            `mapstructure:"content_threshold" validate:"gte=0,lte=1"`
	DurationWeight     float64            `mapstructure:"duration_weight" validate:"gte=0"`
	CountWeight        float64            `mapstructure:"count_weight" validate:"gte=0"`
	PreferenceDefaults PreferenceDefaults `mapstructure:"preference_defaults"`
	PreferenceScales   PreferenceScales   `mapstructure:"preference_scales"`
	PairWeights        PairWeights        `mapstructure:"pair_weights"`
}

// PreferenceDefaults are the fallback bounds for absent preference ranges.
// They are not inferred from data.
type PreferenceDefaults struct {
	PriceMin   float64 `mapstructure:"price_min"`
	PriceMax   float64 `mapstructure:"price_max"`
	AreaMin    float64 `mapstructure:"area_min"`
	AreaMax    float64 `mapstructure:"area_max"`
	BedroomMin float64 `mapstructure:"bedroom_min"`
	BedroomMax float64 `mapstructure:"bedroom_max"`
}

type PreferenceScales struct {
	Price   float64 `mapstructure:"price" validate:"gt=0"`
	Area    float64 `mapstructure:"area" validate:"gt=0"`
	Bedroom float64 `mapstructure:"bedroom" validate:"gt=0"`
}

type PairWeights struct {
	Preference float64 `mapstructure:"preference" validate:"gte=0"`
	Behavior   float64 `mapstructure:"behavior" validate:"gte=0"`
	Favorite   float64 `mapstructure:"favorite" validate:"gte=0"`
}

type BlendConfig struct {
	ContentShare     float64 `mapstructure:"content_share" validate:"gte=0,lte=1"`
	CFShare          float64 `mapstructure:"cf_share" validate:"gte=0,lte=1"`
	PopularityShare  float64 `mapstructure:"popularity_share" validate:"gte=0,lte=1"`
	PlaceholderScore float64 `mapstructure:"placeholder_score"`
	Reason           string  `mapstructure:"reason"`

	SimilarUserThreshold float64 `mapstructure:"similar_user_threshold" validate:"gte=0,lte=1"`
	SimilarUserLimit     int     `mapstructure:"similar_user_limit" validate:"gt=0"`
	CFViewWeight         float64 `mapstructure:"cf_view_weight"`
	CFFavoriteWeight     float64 `mapstructure:"cf_favorite_weight"`

	AlsoViewedThreshold float64 `mapstructure:"also_viewed_threshold" validate:"gte=0,lte=1"`
	AlsoViewedUsers     int     `mapstructure:"also_viewed_users" validate:"gt=0"`

	Popularity PopularityWeights `mapstructure:"popularity"`
	Fallback   FallbackWeights   `mapstructure:"fallback"`
}

type PopularityWeights struct {
	Favorite float64 `mapstructure:"favorite"`
	View     float64 `mapstructure:"view"`
	Recent   float64 `mapstructure:"recent"`
}

// FallbackWeights score similar properties live when no stored edge exists.
type FallbackWeights struct {
	Price    float64 `mapstructure:"price"`
	Area     float64 `mapstructure:"area"`
	Bedroom  float64 `mapstructure:"bedroom"`
	District float64 `mapstructure:"district"`
}

type CachingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	NeighborsTTL time.Duration `mapstructure:"neighbors_ttl"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PropertySpec string `mapstructure:"property_spec"`
	UserSpec     string `mapstructure:"user_spec"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"gt=0"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.applyEncodingDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by the built-in defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaultsOn(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	config.applyEncodingDefaults()
	return &config
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	b := c.Recommendation.Blend
	if sum := b.ContentShare + b.CFShare + b.PopularityShare; sum > 1.0+1e-9 {
		return fmt.Errorf("invalid configuration: blend shares sum to %.2f, must not exceed 1", sum)
	}
	return nil
}

// Encoding tables are keyed by free-form labels which viper cannot express as
// flat defaults, so empty tables fall back here.
func (c *Config) applyEncodingDefaults() {
	defaults := features.DefaultEncodingTables()
	enc := &c.Recommendation.Encoding
	if len(enc.Orientation.Weights) == 0 {
		enc.Orientation = defaults.Orientation
	}
	if len(enc.Decoration.Weights) == 0 {
		enc.Decoration = defaults.Decoration
	}
	if len(enc.District.Weights) == 0 {
		enc.District = defaults.District
	}
}

func setDefaults() {
	setDefaultsOn(viper.GetViper())
}

func setDefaultsOn(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.cache.url", "localhost:6379")
	v.SetDefault("redis.cache.max_retries", 3)
	v.SetDefault("redis.cache.pool_size", 10)
	v.SetDefault("redis.cache.timeout", "5s")
	v.SetDefault("redis.jobs.url", "localhost:6379")
	v.SetDefault("redis.jobs.max_retries", 3)
	v.SetDefault("redis.jobs.pool_size", 5)
	v.SetDefault("redis.jobs.timeout", "10s")

	// Neo4j defaults
	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.database", "neo4j")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "similarity-pass-runners")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.topics.pass_triggers", "similarity-pass-triggers")
	v.SetDefault("kafka.topics.pass_triggers_dlq", "similarity-pass-triggers-dlq")

	// Auth defaults
	v.SetDefault("auth.issuer", "homerec")
	v.SetDefault("auth.admin_role", "admin")
	v.SetDefault("auth.token_ttl", "12h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Pass defaults
	v.SetDefault("recommendation.read_timeout", "30s")
	v.SetDefault("recommendation.batch_size", 1000)
	v.SetDefault("recommendation.behavior_window", "720h")
	v.SetDefault("recommendation.edge_retention", "168h")

	v.SetDefault("recommendation.property.content_threshold", 0.3)
	v.SetDefault("recommendation.property.behavior_threshold", 0.1)
	v.SetDefault("recommendation.property.feature_weights", map[string]float64{
		"price":    0.3,
		"area":     0.2,
		"location": 0.2,
		"layout":   0.15,
		"facility": 0.15,
	})

	v.SetDefault("recommendation.user.pearson_threshold", 0.1)
	v.SetDefault("recommendation.user.content_threshold", 0.1)
	v.SetDefault("recommendation.user.duration_weight", 0.3)
	v.SetDefault("recommendation.user.count_weight", 0.7)
	v.SetDefault("recommendation.user.preference_defaults.price_min", 200.0)
	v.SetDefault("recommendation.user.preference_defaults.price_max", 800.0)
	v.SetDefault("recommendation.user.preference_defaults.area_min", 60.0)
	v.SetDefault("recommendation.user.preference_defaults.area_max", 150.0)
	v.SetDefault("recommendation.user.preference_defaults.bedroom_min", 1.0)
	v.SetDefault("recommendation.user.preference_defaults.bedroom_max", 4.0)
	v.SetDefault("recommendation.user.preference_scales.price", 1000.0)
	v.SetDefault("recommendation.user.preference_scales.area", 200.0)
	v.SetDefault("recommendation.user.preference_scales.bedroom", 5.0)
	v.SetDefault("recommendation.user.pair_weights.preference", 0.4)
	v.SetDefault("recommendation.user.pair_weights.behavior", 0.35)
	v.SetDefault("recommendation.user.pair_weights.favorite", 0.25)

	// Blend defaults
	v.SetDefault("recommendation.blend.content_share", 0.5)
	v.SetDefault("recommendation.blend.cf_share", 0.3)
	v.SetDefault("recommendation.blend.popularity_share", 0.2)
	v.SetDefault("recommendation.blend.placeholder_score", 0.8)
	v.SetDefault("recommendation.blend.reason", "Recommended from your preferences and similar users")
	v.SetDefault("recommendation.blend.similar_user_threshold", 0.5)
	v.SetDefault("recommendation.blend.similar_user_limit", 10)
	v.SetDefault("recommendation.blend.cf_view_weight", 0.6)
	v.SetDefault("recommendation.blend.cf_favorite_weight", 0.4)
	v.SetDefault("recommendation.blend.also_viewed_threshold", 0.6)
	v.SetDefault("recommendation.blend.also_viewed_users", 5)
	v.SetDefault("recommendation.blend.popularity.favorite", 0.4)
	v.SetDefault("recommendation.blend.popularity.view", 0.3)
	v.SetDefault("recommendation.blend.popularity.recent", 0.3)
	v.SetDefault("recommendation.blend.fallback.price", 0.3)
	v.SetDefault("recommendation.blend.fallback.area", 0.2)
	v.SetDefault("recommendation.blend.fallback.bedroom", 0.3)
	v.SetDefault("recommendation.blend.fallback.district", 0.2)

	// Caching defaults
	v.SetDefault("recommendation.caching.enabled", true)
	v.SetDefault("recommendation.caching.neighbors_ttl", "30m")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.property_spec", "0 2 * * *")
	v.SetDefault("scheduler.user_spec", "30 2 * * *")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests", 30)
	v.SetDefault("security.rate_limit.window", "1m")
}
