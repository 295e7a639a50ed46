package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀，如 ALCS_SERVER_HTTP_PORT
const DefaultEnvPrefix = "ALCS"

// legacyEnv maps unprefixed variable names used by earlier deployments to
// the prefixed key they stand for. A prefixed variable always wins.
var legacyEnv = map[string]string{
	"DATABASE_URL":      "DATABASE_URL",
	"AGENT_ALPHA_MODEL": "BACKENDS_ALPHA_MODEL",
	"AGENT_BETA_MODEL":  "BACKENDS_BETA_MODEL",
}

var durationType = reflect.TypeOf(time.Duration(0))

// Loader builds a Config from defaults, an optional YAML file and the
// environment, in that order, then runs the registered validators.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("alcs.yaml").
//	    WithValidator(func(c *config.Config) error { return c.Validate() }).
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置 YAML 文件路径。文件不存在时按默认值处理
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := readYAML(l.configPath, cfg); err != nil {
			return nil, err
		}
	}

	env := l.env()
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, env); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// env returns a lookup that falls back to legacy names for the default prefix.
func (l *Loader) env() func(string) (string, bool) {
	if l.envPrefix != DefaultEnvPrefix {
		return l.lookupEnv
	}
	aliases := make(map[string]string, len(legacyEnv))
	for legacy, key := range legacyEnv {
		aliases[l.envPrefix+"_"+key] = legacy
	}
	return func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, ok
		}
		if legacy, ok := aliases[key]; ok {
			return l.lookupEnv(legacy)
		}
		return "", false
	}
}

func readYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv walks v's `env`-tagged fields; nested structs extend the key
// with their own tag. Fields without a tag (backends.extra) are YAML-only.
func applyEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := range v.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}
		raw, ok := lookup(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", key, raw, err)
		}
	}
	return nil
}

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
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
