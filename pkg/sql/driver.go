// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func getDialector(conf DatabaseConfig) gorm.Dialector {
	sslMode := conf.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	timeZone := conf.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		conf.Host, conf.UserName, conf.Password, conf.DBName, conf.Port, sslMode, timeZone)
	return postgres.Open(dsn)
}
