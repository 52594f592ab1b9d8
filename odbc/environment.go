package odbc

import (
	"sync"
	"sync/atomic"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

// EnvironmentOptions configures the process-wide environment.
type EnvironmentOptions struct {
	// Pooling enables driver-manager connection pooling, one pool per
	// environment with relaxed matching.
	Pooling bool
}

// Environment owns the environment handle every connection is allocated
// under.
type Environment struct {
	cli    api.API
	handle Handle
}

// NewEnvironment sets the process-level pooling attribute, allocates an
// environment handle and selects ODBC 3 behavior.
func NewEnvironment(cli api.API, opts EnvironmentOptions) (*Environment, error) {
	if opts.Pooling {
		if ret := cli.SetEnvAttr(api.NullHandle, api.AttrConnectionPooling, api.CPOnePerHEnv); !ret.Succeeded() {
			return nil, &Error{Kind: ErrorKindNative, Message: "unable to initialize ODBC connection pooling"}
		}
	}

	env := &Environment{cli: cli, handle: newHandle(api.HandleEnv)}
	if err := env.handle.Alloc(cli, nil); err != nil {
		return nil, err
	}
	if ret := cli.SetEnvAttr(env.handle.Native(), api.AttrODBCVersion, api.OVODBC3); !ret.Succeeded() {
		err := env.handle.Diagnose()
		env.handle.Free()
		return nil, err
	}
	if opts.Pooling {
		if ret := cli.SetEnvAttr(env.handle.Native(), api.AttrCPMatch, api.CPRelaxedMatch); !ret.Succeeded() {
			err := env.handle.Diagnose()
			env.handle.Free()
			return nil, err
		}
	}
	return env, nil
}

// API returns the driver manager the environment was created on.
func (e *Environment) API() api.API {
	return e.cli
}

// Close frees the environment handle. Every connection must be closed
// first.
func (e *Environment) Close() {
	e.handle.Free()
}

var (
	defaultOnce sync.Once
	defaultEnv  atomic.Pointer[Environment]
	defaultErr  error
)

// InitOnce creates the process-wide environment on first use. Later calls
// return the first result regardless of their arguments.
func InitOnce(cli api.API, opts EnvironmentOptions) (*Environment, error) {
	defaultOnce.Do(func() {
		var env *Environment
		env, defaultErr = NewEnvironment(cli, opts)
		defaultEnv.Store(env)
	})
	return defaultEnv.Load(), defaultErr
}

// Default returns the environment created by InitOnce, or nil.
func Default() *Environment {
	return defaultEnv.Load()
}
