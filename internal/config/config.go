package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"

	"github.com/oceanprotocol/aquarius/internal/domain"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Chain     Chain     `yaml:"chain"`
	Index     Index     `yaml:"index"`
	Admin     Admin     `yaml:"admin"`
	Purgatory Purgatory `yaml:"purgatory"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Chain struct {
	RPCEndpoint      string        `yaml:"rpcEndpoint"`
	MetadataContract string        `yaml:"metadataContract"`
	ChainID          int64         `yaml:"chainId"`
	StartBlock       uint64        `yaml:"startBlock"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
}

type Index struct {
	MainIndex string `yaml:"mainIndex"`

	// PlusIndex is derived from MainIndex, never configured directly.
	PlusIndex string `yaml:"-"`
}

type Admin struct {
	AllowedUpdaters []string `yaml:"allowedUpdaters"`
}

type Purgatory struct {
	ListURL         string        `yaml:"listURL"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Index.MainIndex == "" {
		config.Index.MainIndex = "oceandb"
	}
	config.Index.PlusIndex = config.Index.MainIndex + domain.PlusIndexSuffix

	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = ":5000"
	}
	if config.Chain.RequestTimeout == 0 {
		config.Chain.RequestTimeout = 10 * time.Second
	}
	if config.Purgatory.RefreshInterval == 0 {
		config.Purgatory.RefreshInterval = time.Hour
	}

	if config.Chain.RPCEndpoint == "" {
		return Config{}, fmt.Errorf("chain.rpcEndpoint is required")
	}

	return config, nil
}
