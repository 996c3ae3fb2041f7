package drain

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars when s is not a pointer to a struct.
var ErrNotPointer = errors.New("config must be a pointer to a struct")

// GetenvOrDefault returns the trimmed value of key, or defaultValue when the
// variable is unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvBoolOrDefault parses key as a bool, falling back to defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(GetenvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvIntOrDefault parses key as an int64, falling back to defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(GetenvOrDefault(key, ""), 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvDurationOrDefault parses key with time.ParseDuration, falling back to defaultValue.
func GetenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(GetenvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}

	return value
}

// SetConfigFromEnvVars fills the fields of the struct pointed to by s that
// carry an `env:"NAME"` tag. Fields whose variable is unset keep their current
// value, so callers can pre-populate defaults. Supported kinds are string,
// bool, signed integers and time.Duration.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	elem := v.Elem()
	typ := elem.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		name, ok := field.Tag.Lookup("env")
		if !ok || name == "" || !field.IsExported() {
			continue
		}

		raw, set := os.LookupEnv(name)
		if !set || strings.TrimSpace(raw) == "" {
			continue
		}

		if err := setField(elem.Field(i), strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		field.SetInt(int64(d))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// LocalEnvConfig records the outcome of loading a local .env file.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig loads .env from the working directory when ENV_NAME is
// "local". It runs once per process.
func InitLocalEnvConfig() *LocalEnvConfig {
	localEnvConfigOnce.Do(func() {
		version := GetenvOrDefault("VERSION", "NO-VERSION")
		envName := GetenvOrDefault("ENV_NAME", "development")

		fmt.Printf("VERSION: %s\nENVIRONMENT NAME: %s\n", version, envName)

		if envName != "local" {
			localEnvConfig = &LocalEnvConfig{}

			return
		}

		if err := godotenv.Load(); err != nil {
			fmt.Println("skipping .env file, using environment variables:", err)

			localEnvConfig = &LocalEnvConfig{}

			return
		}

		localEnvConfig = &LocalEnvConfig{Initialized: true}
	})

	return localEnvConfig
}
