package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	StorageConfig struct {
		Engine string // file | postgres | memory
		Dir    string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	SyncConfig struct {
		DebounceDelay       time.Duration
		PollInterval        time.Duration
		RequestTimeout      time.Duration
		JSONBinBaseURL      string
		FirestoreCollection string
	}

	GeminiConfig struct {
		APIKey  string
		Model   string
		BaseURL string
		Timeout time.Duration
	}

	AdminConfig struct {
		DefaultPassword   string
		MinPasswordLength int
	}

	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		AppName          string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail string
		ReportRecipients []string

		Server   ServerConfig
		Storage  StorageConfig
		Database DatabaseConfig
		Sync     SyncConfig
		Gemini   GeminiConfig
		Admin    AdminConfig
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultFromAddress parses DefaultFromEmail, falling back to a bare address.
func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "EduTracker")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "EduTracker <noreply@localhost>")
	v.SetDefault("reportRecipients", []string{})

	v.SetDefault("server_host", ":8000")
	v.SetDefault("server_debugHost", ":4000")
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_jwtExpirationDelta", 12*time.Hour)

	v.SetDefault("storage_engine", "file")
	v.SetDefault("storage_dir", "data")

	v.SetDefault("db_engine", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "edutracker")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_adminUser", "")
	v.SetDefault("db_adminPassword", "")
	v.SetDefault("db_disableTLS", true)

	v.SetDefault("sync_debounceDelay", 2*time.Second)
	v.SetDefault("sync_pollInterval", 3*time.Second)
	v.SetDefault("sync_requestTimeout", 10*time.Second)
	v.SetDefault("sync_jsonbinBaseURL", "https://api.jsonbin.io/v3")
	v.SetDefault("sync_firestoreCollection", "edutracker")

	v.SetDefault("gemini_apiKey", "")
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("gemini_baseURL", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini_timeout", 30*time.Second)

	v.SetDefault("admin_defaultPassword", "admin")
	v.SetDefault("admin_minPasswordLength", 4)
}

// NewConfig loads the configuration of the current environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
// Values are read from the environment (prefixed with ENV, eg. PROD_DB_HOST),
// optionally seeded by `config/.env.<env>`.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		WorkDir:          wd,
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		ReportRecipients: v.GetStringSlice("reportRecipients"),
		Server: ServerConfig{
			Host:               v.GetString("server_host"),
			DebugHost:          v.GetString("server_debugHost"),
			ShutdownTimeout:    v.GetDuration("server_shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server_jwtExpirationDelta"),
		},
		Storage: StorageConfig{
			Engine: strings.ToLower(v.GetString("storage_engine")),
			Dir:    v.GetString("storage_dir"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("db_engine"),
			Host:          v.GetString("db_host"),
			Port:          v.GetInt("db_port"),
			Name:          v.GetString("db_name"),
			User:          v.GetString("db_user"),
			Password:      v.GetString("db_password"),
			AdminUser:     v.GetString("db_adminUser"),
			AdminPassword: v.GetString("db_adminPassword"),
			DisableTLS:    v.GetBool("db_disableTLS"),
		},
		Sync: SyncConfig{
			DebounceDelay:       v.GetDuration("sync_debounceDelay"),
			PollInterval:        v.GetDuration("sync_pollInterval"),
			RequestTimeout:      v.GetDuration("sync_requestTimeout"),
			JSONBinBaseURL:      strings.TrimRight(v.GetString("sync_jsonbinBaseURL"), "/"),
			FirestoreCollection: v.GetString("sync_firestoreCollection"),
		},
		Gemini: GeminiConfig{
			APIKey:  v.GetString("gemini_apiKey"),
			Model:   v.GetString("gemini_model"),
			BaseURL: strings.TrimRight(v.GetString("gemini_baseURL"), "/"),
			Timeout: v.GetDuration("gemini_timeout"),
		},
		Admin: AdminConfig{
			DefaultPassword:   v.GetString("admin_defaultPassword"),
			MinPasswordLength: v.GetInt("admin_minPasswordLength"),
		},
	}
}
