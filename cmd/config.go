package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mypub/mypub/types"
)

type Config struct {
	Instance types.InstanceConfig `yaml:"instance"`
	Server   Server               `yaml:"server"`
	NodeInfo types.NodeInfo       `yaml:"nodeInfo"`
}

type Server struct {
	Dsn            string `yaml:"dsn" env:"MYPUB_DSN,overwrite"`
	RedisAddr      string `yaml:"redisAddr" env:"MYPUB_REDIS_ADDR,overwrite"`
	RedisDB        int    `yaml:"redisDB" env:"MYPUB_REDIS_DB,overwrite"`
	MemcachedAddr  string `yaml:"memcachedAddr" env:"MYPUB_MEMCACHED_ADDR,overwrite"`
	Port           string `yaml:"port" env:"MYPUB_PORT,overwrite,default=8000"`
	AdminToken     string `yaml:"adminToken" env:"MYPUB_ADMIN_TOKEN,overwrite"`
	RequestTimeout int    `yaml:"requestTimeout" env:"MYPUB_REQUEST_TIMEOUT,overwrite,default=10"`
	EnableTrace    bool   `yaml:"enableTrace" env:"MYPUB_ENABLE_TRACE,overwrite"`
	TraceEndpoint  string `yaml:"traceEndpoint" env:"MYPUB_TRACE_ENDPOINT,overwrite"`
}

// LoadConfig reads the yaml files in order, each one overriding the keys it
// sets, then applies environment overrides.
func LoadConfig(ctx context.Context, paths []string, lookuper envconfig.Lookuper) (Config, error) {
	var config Config
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config "+path)
		}
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to parse config "+path)
		}
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: lookuper,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to apply environment")
	}

	if config.Instance.Domain == "" {
		return Config{}, errors.New("instance.domain is required")
	}
	if config.Instance.AdminHandle == "" {
		config.Instance.AdminHandle = "admin"
	}
	config.Instance = config.Instance.WithDefaults()

	return config, nil
}
