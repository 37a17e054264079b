// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/synthome-dev/synthome/pkg/logger/log"
)

const (
	dbKeyDefault = "default"
)

var (
	connPools    = map[string]*gorm.DB{}
	connPoolLock = &sync.RWMutex{}
)

var (
	errInvalidConfig = fmt.Errorf("config invalid")
)

type MultiDatabaseConfig map[string]DatabaseConfig

type DatabaseConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	UserName    string `json:"user_name" yaml:"user_name"`
	Password    string `json:"password" yaml:"password"`
	DBName      string `json:"db_name" yaml:"db_name"`
	LogMode     bool   `json:"log_mode" yaml:"log_mode"`
	MaxIdleConn int    `json:"max_idle_conn" yaml:"max_idle_conn"`
	MaxOpenConn int    `json:"max_open_conn" yaml:"max_open_conn"`
	SSLMode     string `json:"ssl_mode" yaml:"ssl_mode"`
	TimeZone    string `json:"time_zone" yaml:"time_zone"`
}

func (d DatabaseConfig) Validate() error {
	if d.Host == "" || d.Port == 0 || d.DBName == "" {
		return errInvalidConfig
	}
	return nil
}

type opts func(db *gorm.DB)

func InitMulti(conf MultiDatabaseConfig, opts ...opts) error {
	for key, c := range conf {
		log.GlobalLogger().Debugf("Init database %s", key)
		if _, err := InitGormDB(key, c, opts...); err != nil {
			return err
		}
	}
	return nil
}

func InitDefault(conf DatabaseConfig, opts ...opts) (*gorm.DB, error) {
	return InitGormDB(dbKeyDefault, conf, opts...)
}

func InitGormDB(key string, conf DatabaseConfig, opts ...opts) (*gorm.DB, error) {
	if gormDB := GetDB(key); gormDB != nil {
		return gormDB, nil
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	dialector := getDialector(conf)
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		FullSaveAssociations: false,
		Logger:               NullLogger{},
		PrepareStmt:          false,
	})
	if err != nil {
		return nil, err
	}

	// Connections are refreshed periodically so that pools do not keep
	// pointing at an old primary after failover.
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql.DB")
	}

	if conf.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(conf.MaxIdleConn)
	} else {
		sqlDB.SetMaxIdleConns(10)
	}

	if conf.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(conf.MaxOpenConn)
	} else {
		sqlDB.SetMaxOpenConns(40)
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	log.Infof("Configured connection pool for '%s': MaxIdleConn=%d, MaxOpenConn=%d, ConnMaxLifetime=5m, ConnMaxIdleTime=2m",
		key, conf.MaxIdleConn, conf.MaxOpenConn)

	for _, opt := range opts {
		opt(gormDB)
	}
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = gormDB
	return gormDB, nil
}

func GetDB(key string) *gorm.DB {
	connPoolLock.RLock()
	defer connPoolLock.RUnlock()

	if db, ok := connPools[key]; ok {
		return db
	}
	return nil
}

func GetDefaultDB() *gorm.DB {
	return GetDB(dbKeyDefault)
}

// SetDB installs a pre-built connection under key. Tests use this to
// point facades at an in-memory or mocked gorm handle.
func SetDB(key string, db *gorm.DB) {
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = db
}
