// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/utils/goroutineUtil"
)

// The health server runs beside the main listener on its own port and
// serves metrics plus whatever probe routes the process registers.
var (
	once     sync.Once
	engine   *gin.Engine
	engineMu sync.RWMutex

	registers   = []func(g *gin.RouterGroup){}
	registersMu sync.Mutex

	defaultGather prometheus.Gatherer = prometheus.DefaultGatherer
)

func init() {
	AddRegister(addMetrics)
}

// SetDefaultGather replaces the metrics gatherer behind /metrics
func SetDefaultGather(g prometheus.Gatherer) {
	defaultGather = g
}

// AddRegister queues a route register to run when the health server
// starts. Must be called before InitHealthServer.
func AddRegister(register func(g *gin.RouterGroup)) {
	registersMu.Lock()
	defer registersMu.Unlock()
	registers = append(registers, register)
}

// AddDefaultRegister adds a GET route that renders the method's result
// as JSON, or 500 with the error.
func AddDefaultRegister(path string, method func() (interface{}, error)) {
	AddRegister(func(g *gin.RouterGroup) {
		g.GET(path, func(c *gin.Context) {
			data, err := method()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, data)
		})
	})
}

// addMetrics resolves the gatherer per request so SetDefaultGather
// works after the route is registered.
func addMetrics(g *gin.RouterGroup) {
	g.GET("/metrics", func(c *gin.Context) {
		promhttp.HandlerFor(defaultGather, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}).ServeHTTP(c.Writer, c.Request)
	})
}

// InitHealthServer starts the health listener once; later calls are
// no-ops regardless of port.
func InitHealthServer(port int) {
	once.Do(func() {
		engineMu.Lock()
		engine = gin.New()
		engine.Use(gin.Recovery())
		group := engine.Group("")
		registersMu.Lock()
		for _, register := range registers {
			register(group)
		}
		registersMu.Unlock()
		healthEngine := engine
		engineMu.Unlock()

		go func() {
			defer goroutineUtil.RecoverFunc(nil)()
			if err := healthEngine.Run(fmt.Sprintf(":%d", port)); err != nil {
				log.GlobalLogger().Errorf("health server: %v", err)
			}
		}()
	})
}
