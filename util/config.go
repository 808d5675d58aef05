package util

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-driven setting (§6): none of it is
// persisted, it is read once at process startup.
type Config struct {
	Domain string // DOMAIN (required)

	Host     string // bind host, from LISTEN_ADDR
	HttpPort int    // bind port, from LISTEN_ADDR

	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	StaticFilesDirectoryPath string

	UserHandle         string
	UserPasswordBcrypt string

	ObjectStoreType      string // "local" or "s3"
	ObjectStoreLocalPath string
	ObjectStorePublicURL string
	S3Bucket             string
	S3Region             string
	S3Endpoint           string
	S3AccessKeyID        string
	S3SecretAccessKey    string
	S3UseSSL             bool

	WithJournald bool
	WithPprof    bool
}

// AppConfig wraps Config the way the teacher's util.AppConfig does, so
// call sites read conf.Conf.Field.
type AppConfig struct {
	Conf Config
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func getenvBoolDefault(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// ReadConf loads configuration from the environment (§6). DOMAIN is the
// only required variable; everything else falls back to a sane default.
func ReadConf() (*AppConfig, error) {
	domain := os.Getenv("DOMAIN")
	if domain == "" {
		return nil, fmt.Errorf("util: DOMAIN environment variable is required")
	}

	listenAddr := getenv("LISTEN_ADDR", "0.0.0.0:3000")
	host, port, err := splitListenAddr(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("util: invalid LISTEN_ADDR %q: %w", listenAddr, err)
	}

	conf := Config{
		Domain:                   domain,
		Host:                     host,
		HttpPort:                 port,
		DatabaseHost:             os.Getenv("DATABASE_HOST"),
		DatabasePort:             os.Getenv("DATABASE_PORT"),
		DatabaseUser:             os.Getenv("DATABASE_USER"),
		DatabasePassword:         os.Getenv("DATABASE_PASSWORD"),
		DatabaseName:             getenv("DATABASE_DATABASE", "stegodon"),
		StaticFilesDirectoryPath: getenv("STATIC_FILES_DIRECTORY_PATH", "./web/static"),
		UserHandle:               os.Getenv("USER_HANDLE"),
		UserPasswordBcrypt:       os.Getenv("USER_PASSWORD_BCRYPT"),
		ObjectStoreType:          getenv("OBJECT_STORE_TYPE", "local"),
		ObjectStoreLocalPath:     getenv("OBJECT_STORE_LOCAL_PATH", "./data/files"),
		ObjectStorePublicURL:     getenv("OBJECT_STORE_PUBLIC_URL", "https://"+domain+"/static/files"),
		S3Bucket:                 os.Getenv("OBJECT_STORE_S3_BUCKET"),
		S3Region:                 os.Getenv("OBJECT_STORE_S3_REGION"),
		S3Endpoint:               os.Getenv("OBJECT_STORE_S3_ENDPOINT"),
		S3AccessKeyID:            os.Getenv("OBJECT_STORE_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:        os.Getenv("OBJECT_STORE_S3_SECRET_ACCESS_KEY"),
		S3UseSSL:                 getenvBoolDefault("OBJECT_STORE_S3_USE_SSL", true),
		WithJournald:             getenvBool("WITH_JOURNALD"),
		WithPprof:                getenvBool("WITH_PPROF"),
	}

	return &AppConfig{Conf: conf}, nil
}

func splitListenAddr(addr string) (string, int, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port, err := strconv.Atoi(addr[i+1:])
			if err != nil {
				return "", 0, err
			}
			return addr[:i], port, nil
		}
	}
	return "", 0, fmt.Errorf("missing port")
}

// SqlitePath builds the on-disk sqlite file path, relative to the working
// directory, from DATABASE_DATABASE alone as the file stem; the other
// DATABASE_* variables are read into Config but not used here.
func (c *Config) SqlitePath() string {
	name := c.DatabaseName
	if name == "" {
		name = "stegodon"
	}
	return name + ".db"
}

// LocalPersonURI is the stable URL of the single local actor (§4.4).
func (c *Config) LocalPersonURI() string {
	return "https://" + c.Domain + "/ap/person"
}
