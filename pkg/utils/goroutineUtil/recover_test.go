package goroutineUtil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverFunc(t *testing.T) {
	t.Run("no panic no hook", func(t *testing.T) {
		hookCalled := false
		hook := func(r any) {
			hookCalled = true
		}

		func() {
			defer RecoverFunc(hook)()
		}()

		assert.False(t, hookCalled)
	})

	t.Run("panic triggers hook", func(t *testing.T) {
		hookCalled := false
		var panicValue any
		hook := func(r any) {
			hookCalled = true
			panicValue = r
		}

		func() {
			defer RecoverFunc(hook)()
			panic("test panic")
		}()

		assert.True(t, hookCalled)
		assert.Equal(t, "test panic", panicValue)
	})

	t.Run("nil hook does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			defer RecoverFunc(nil)()
			panic("test panic")
		})
	})

	t.Run("panic with error value", func(t *testing.T) {
		var panicValue any
		hook := func(r any) {
			panicValue = r
		}

		testErr := errors.New("test error")
		func() {
			defer RecoverFunc(hook)()
			panic(testErr)
		}()

		assert.Equal(t, testErr, panicValue)
	})
}

func TestDefaultRecoveryFunc(t *testing.T) {
	t.Run("string panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			DefaultRecoveryFunc("panic text")
		})
	})

	t.Run("error panic", func(t *testing.T) {
		testErr := errors.New("test error")
		assert.NotPanics(t, func() {
			DefaultRecoveryFunc(testErr)
		})
	})

	t.Run("arbitrary value", func(t *testing.T) {
		assert.NotPanics(t, func() {
			DefaultRecoveryFunc(123)
		})
	})

	t.Run("nil value", func(t *testing.T) {
		assert.NotPanics(t, func() {
			DefaultRecoveryFunc(nil)
		})
	})
}
