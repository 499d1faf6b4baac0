package config

import (
	_ "embed"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/BurntSushi/toml"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/ocfl-archive/ocflkit/pkg/storagelayout"
)

//go:embed default_config.toml
var DefaultConfig []byte

// EnvString expands ${VAR} references when decoded, so credentials can stay
// out of the config file.
type EnvString string

func (s *EnvString) UnmarshalText(text []byte) error {
	*s = EnvString(os.ExpandEnv(string(text)))
	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "cannot parse duration '%s'", string(text))
	}
	d.Duration = dur
	return nil
}

type S3Config struct {
	Endpoint        EnvString `toml:"endpoint"`
	Region          EnvString `toml:"region"`
	Bucket          EnvString `toml:"bucket"`
	AccessKeyID     EnvString `toml:"accesskeyid"`
	SecretAccessKey EnvString `toml:"secretaccesskey"`
	UseSSL          bool      `toml:"usessl"`
}

type RetryConfig struct {
	MaxRetries      uint64   `toml:"maxretries"`
	InitialInterval Duration `toml:"initialinterval"`
	MaxInterval     Duration `toml:"maxinterval"`
	MaxElapsedTime  Duration `toml:"maxelapsedtime"`
}

type InitConfig struct {
	Digest checksum.DigestAlgorithm `toml:"digest"`
	Layout string                   `toml:"layout"`
}

type UserConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
}

type CommitConfig struct {
	Digest  checksum.DigestAlgorithm `toml:"digest"`
	Fixity  []string                 `toml:"fixity"`
	Message string                   `toml:"message"`
	User    *UserConfig              `toml:"User"`
}

type ValidateConfig struct {
	Parallel int  `toml:"parallel"`
	NoDigest bool `toml:"nodigest"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type Config struct {
	S3       *S3Config       `toml:"S3"`
	Retry    *RetryConfig    `toml:"Retry"`
	Init     *InitConfig     `toml:"Init"`
	Commit   *CommitConfig   `toml:"Commit"`
	Validate *ValidateConfig `toml:"Validate"`
	Log      *LogConfig      `toml:"Log"`
}

// LoadConfig decodes a TOML document over the defaults.
func LoadConfig(data string) (*Config, error) {
	var conf = &Config{
		S3: &S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Retry: &RetryConfig{
			MaxRetries:      4,
			InitialInterval: Duration{250 * time.Millisecond},
			MaxInterval:     Duration{5 * time.Second},
			MaxElapsedTime:  Duration{time.Minute},
		},
		Init: &InitConfig{
			Digest: checksum.DigestDefault,
			Layout: storagelayout.HashedNTupleName,
		},
		Commit: &CommitConfig{
			Digest: checksum.DigestDefault,
			Fixity: []string{},
			User:   &UserConfig{},
		},
		Validate: &ValidateConfig{
			Parallel: 4,
		},
		Log: &LogConfig{
			Level: "error",
		},
	}
	if _, err := toml.Decode(data, conf); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if !checksum.HashExists(conf.Init.Digest) {
		return nil, errors.Wrapf(checksum.ErrUnknownAlgorithm, "Init.digest '%s'", conf.Init.Digest)
	}
	if !checksum.HashExists(conf.Commit.Digest) {
		return nil, errors.Wrapf(checksum.ErrUnknownAlgorithm, "Commit.digest '%s'", conf.Commit.Digest)
	}
	for _, fixity := range conf.Commit.Fixity {
		if !checksum.HashExists(checksum.DigestAlgorithm(fixity)) {
			return nil, errors.Wrapf(checksum.ErrUnknownAlgorithm, "Commit.fixity '%s'", fixity)
		}
	}
	return conf, nil
}
