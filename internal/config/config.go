package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"log"
	"sync"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"true"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"warreg"`
}

// CrmConfig configures the email/CRM automation provider client.
type CrmConfig struct {
	Enabled    bool   `yaml:"enabled" env-default:"false"`
	BaseUrl    string `yaml:"base_url" env-default:""`
	ApiKey     string `yaml:"api_key" env-default:""`
	ListId     string `yaml:"list_id" env-default:""`
	CampaignId string `yaml:"campaign_id" env-default:""`
}

// StoreConfig configures the e-commerce customer-directory mirror.
type StoreConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	HostName string `yaml:"host_name" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"3306"`
	UserName string `yaml:"user_name" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:""`
	Prefix   string `yaml:"prefix" env-default:"oc_"`
}

// TelegramConfig configures operator alerts for escalations.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env-default:"false"`
	ApiKey  string `yaml:"api_key" env-default:""`
	ChatId  int64  `yaml:"chat_id" env-default:"0"`
}

// AdminConfig seeds the default admin user for the -init-admin setup run.
type AdminConfig struct {
	Username string `yaml:"username" env-default:"admin"`
	Email    string `yaml:"email" env-default:""`
	Token    string `yaml:"token" env-default:""`
}

type Config struct {
	Listen   Listen         `yaml:"listen"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Crm      CrmConfig      `yaml:"crm"`
	Store    StoreConfig    `yaml:"store"`
	Telegram TelegramConfig `yaml:"telegram"`
	Admin    AdminConfig    `yaml:"admin"`
	Env      string         `yaml:"env" env-default:"local"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
