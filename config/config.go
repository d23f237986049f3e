package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port   string
	AppEnv string

	// Logging
	LogLevel string
	LogFile  string

	// Klassenbuch
	SchoolID         string
	AvgLessonsPerDay int
	CourseWeeks      int
	ConsistencyCron  string
	RefreshCron      string

	// LINE group notifications
	LineChannelSecret      string
	LineChannelAccessToken string
	LineGroupID            string

	// Feature Toggles
	UseRedisRealtime      bool
	UseRedisNotifications bool
	UseSyntheticData      bool
	SkipMigrate           bool
}

func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.AppEnv) == "development"
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	// Stage & base path for SSM (allows multi-env without code changes)
	basePath := strings.TrimRight(getEnv("SSM_BASE_PATH", "/klassenbuch"), "/")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "eu-central-1"))})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create AWS session")
		}
		logrus.WithField("prefix", prefix).Info("Using AWS SSM Parameter Store")
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			logrus.Warn(".env file not found, using environment variables")
		}
	}

	AppConfig = build(func(key, def string) string {
		if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
			return v
		}
		return getEnv(strings.ToUpper(key), def)
	})

	validateConfig(AppConfig, useSSM)
}

// build assembles a Config from a key lookup. Invalid numeric values are fatal.
func build(get func(key, def string) string) *Config {
	jwtExpires, err := ParseExpiry(get("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		logrus.WithError(err).Fatal("Invalid JWT_EXPIRES_IN format")
	}
	avg := mustInt(get, "AVG_LESSONS_PER_DAY", 8)
	weeks := mustInt(get, "COURSE_WEEKS", 5)

	return &Config{
		DBHost:     get("DB_HOST", "localhost"),
		DBPort:     get("DB_PORT", "3306"),
		DBUser:     get("DB_USER", "root"),
		DBPassword: get("DB_PASSWORD", ""),
		DBName:     get("DB_NAME", "klassenbuch"),

		RedisHost:     get("REDIS_HOST", "localhost"),
		RedisPort:     get("REDIS_PORT", "6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),

		JWTSecret:    get("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: jwtExpires,

		AWSRegion:          get("AWS_REGION", "eu-central-1"),
		AWSAccessKeyID:     get("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: get("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       get("S3_BUCKET_NAME", "klassenbuch-reports"),

		Port:   get("PORT", "3000"),
		AppEnv: get("APP_ENV", "development"),

		LogLevel: get("LOG_LEVEL", "info"),
		LogFile:  get("LOG_FILE", "logs/app.log"),

		SchoolID:         get("SCHOOL_ID", "default"),
		AvgLessonsPerDay: avg,
		CourseWeeks:      weeks,
		ConsistencyCron:  get("CONSISTENCY_CRON", "*/15 * * * *"),
		RefreshCron:      get("REFRESH_CRON", "0 */2 * * *"),

		LineChannelSecret:      get("LINE_CHANNEL_SECRET", ""),
		LineChannelAccessToken: get("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineGroupID:            get("LINE_GROUP_ID", ""),

		UseRedisRealtime:      parseBool(get("USE_REDIS_REALTIME", "false")),
		UseRedisNotifications: parseBool(get("USE_REDIS_NOTIFICATIONS", "false")),
		UseSyntheticData:      parseBool(get("USE_SYNTHETIC_DATA", "false")),
		SkipMigrate:           parseBool(get("SKIP_MIGRATE", "false")),
	}
}

// ParseExpiry accepts Go durations plus a day (d) or week (w) suffix.
func ParseExpiry(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	v := strings.TrimSpace(strings.ToLower(s))
	if len(v) > 1 {
		if n, convErr := strconv.Atoi(v[:len(v)-1]); convErr == nil {
			switch v[len(v)-1] {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

func parseBool(s string) bool {
	return strings.ToLower(strings.TrimSpace(s)) == "true"
}

func mustInt(get func(key, def string) string, key string, def int) int {
	raw := get(key, strconv.Itoa(def))
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		logrus.WithField("value", raw).Fatalf("Invalid %s", key)
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fetchSSMParameters reads all parameters under prefix and returns a map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	next := aws.String("")
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
		}
		if *next != "" {
			in.NextToken = next
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			logrus.WithField("prefix", prefix).WithError(err).Warn("Unable to fetch SSM parameters")
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name[strings.LastIndex(name, "/")+1:]
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	if err := c.Validate(); err != nil {
		logrus.WithField("ssm", usedSSM).WithError(err).Fatal("Invalid configuration")
	}
}

// Validate enforces the production rules for secrets.
func (c *Config) Validate() error {
	if strings.ToLower(c.AppEnv) != "production" {
		return nil
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
		"SCHOOL_ID":   c.SchoolID,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("missing required secret %s in production", k)
		}
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET too short (min 16 chars)")
	}
	return nil
}
