// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/model/rest"
)

func HandleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) <= 0 {
			return
		}
		for i := range c.Errors {
			err := c.Errors[i]
			if i > 0 {
				log.GlobalLogger().Errorf("error %v: %+v. This is a subsequent error in request. It should immediately return when the first error occurs", i, err.Error())
			}
		}

		err := c.Errors[0]
		if cError, ok := err.Err.(*errors.Error); ok {
			log.GlobalLogger().Errorf("Rest interface error FullPath %s RequestPath %s Code %d Message '%s' Error %+v Stack %v",
				c.FullPath(), c.Request.URL.Path, cError.Code, cError.Message, cError.InnerError, cError.GetStackString())
			c.AbortWithStatusJSON(http.StatusOK, rest.ErrorResp(c.Request.Context(), cError.Code, cError.Message, nil))
			return
		}

		log.GlobalLogger().Errorf("Rest interface get unwrapped error. FullPath %s. RequestPath %s. Error %+v.",
			c.FullPath(), c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusOK, rest.ErrorResp(c.Request.Context(), errors.InternalError, "Unknown error", nil))
	}
}
