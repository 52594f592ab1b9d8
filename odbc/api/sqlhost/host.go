// Package sqlhost is an in-process driver manager. It implements api.API
// over database/sql so the ODBC core can run against sqlite or SQL Server
// without a native ODBC installation.
package sqlhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

// Options configures a Host. All fields are optional.
type Options struct {
	// StillExecuting, when set, is consulted before every call that may run
	// asynchronously. Returning true makes the call report
	// api.StillExecuting without doing any work.
	StillExecuting func(call string, h api.Handle) bool

	Logger *slog.Logger
}

// Host emulates a driver manager. Handles are small integers; the state
// behind them lives in maps guarded by mu, which is never held during
// database work.
type Host struct {
	opts   Options
	logger *slog.Logger

	mu             sync.Mutex
	nextHandle     api.Handle
	processPooling bool
	envs           map[api.Handle]*environment
	dbcs           map[api.Handle]*connection
	stmts          map[api.Handle]*statement
	diags          map[api.Handle][]api.DiagRecord
}

type environment struct {
	pooling bool
	version uintptr
	pools   map[string]*sqlx.DB
}

type connection struct {
	env        api.Handle
	db         *sqlx.DB
	pooled     bool
	conn       *sqlx.Conn
	tx         *sqlx.Tx
	autocommit bool
}

func (c *connection) connected() bool {
	return c.conn != nil
}

// executor is satisfied by both *sqlx.Conn and *sqlx.Tx.
type executor interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var _ api.API = (*Host)(nil)

// New creates an empty Host.
func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		opts:   opts,
		logger: logger.With("component", "sqlhost"),
		envs:   make(map[api.Handle]*environment),
		dbcs:   make(map[api.Handle]*connection),
		stmts:  make(map[api.Handle]*statement),
		diags:  make(map[api.Handle][]api.DiagRecord),
	}
}

func (h *Host) stillExecuting(call string, handle api.Handle) bool {
	return h.opts.StillExecuting != nil && h.opts.StillExecuting(call, handle)
}

// begin clears the diagnostics of handle, as every ODBC call does.
func (h *Host) begin(handle api.Handle) {
	h.mu.Lock()
	delete(h.diags, handle)
	h.mu.Unlock()
}

func (h *Host) post(handle api.Handle, state string, native int32, message string) {
	h.mu.Lock()
	h.diags[handle] = append(h.diags[handle], api.DiagRecord{State: state, NativeCode: native, Message: message})
	h.mu.Unlock()
}

func (h *Host) fail(handle api.Handle, state, message string) api.Return {
	h.post(handle, state, 0, message)
	return api.Error
}

func (h *Host) failErr(handle api.Handle, err error) api.Return {
	state, native := stateFor(err)
	h.post(handle, state, native, err.Error())
	return api.Error
}

func (h *Host) warn(handle api.Handle, state, message string) api.Return {
	h.post(handle, state, 0, message)
	return api.SuccessWithInfo
}

func (h *Host) lookupEnv(handle api.Handle) *environment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.envs[handle]
}

func (h *Host) lookupDbc(handle api.Handle) *connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dbcs[handle]
}

func (h *Host) lookupStmt(handle api.Handle) *statement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stmts[handle]
}

func (h *Host) AllocHandle(kind api.HandleType, parent api.Handle) (api.Handle, api.Return) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch kind {
	case api.HandleEnv:
		h.nextHandle++
		h.envs[h.nextHandle] = &environment{
			pooling: h.processPooling,
			pools:   make(map[string]*sqlx.DB),
		}
		return h.nextHandle, api.Success

	case api.HandleDbc:
		if _, ok := h.envs[parent]; !ok {
			return api.NullHandle, api.InvalidHandle
		}
		h.nextHandle++
		h.dbcs[h.nextHandle] = &connection{env: parent, autocommit: true}
		return h.nextHandle, api.Success

	case api.HandleStmt:
		dbc, ok := h.dbcs[parent]
		if !ok {
			return api.NullHandle, api.InvalidHandle
		}
		if !dbc.connected() {
			delete(h.diags, parent)
			h.diags[parent] = []api.DiagRecord{{State: "08003", Message: "Connection not open"}}
			return api.NullHandle, api.Error
		}
		h.nextHandle++
		h.stmts[h.nextHandle] = &statement{dbc: parent, rowCount: -1}
		return h.nextHandle, api.Success
	}
	return api.NullHandle, api.Error
}

func (h *Host) FreeHandle(kind api.HandleType, handle api.Handle) api.Return {
	switch kind {
	case api.HandleStmt:
		h.mu.Lock()
		stmt, ok := h.stmts[handle]
		delete(h.stmts, handle)
		delete(h.diags, handle)
		h.mu.Unlock()
		if !ok {
			return api.InvalidHandle
		}
		stmt.closeCursor()
		return api.Success

	case api.HandleDbc:
		dbc := h.lookupDbc(handle)
		if dbc == nil {
			return api.InvalidHandle
		}
		if dbc.connected() {
			h.disconnect(handle, dbc)
		}
		h.mu.Lock()
		delete(h.dbcs, handle)
		delete(h.diags, handle)
		h.mu.Unlock()
		return api.Success

	case api.HandleEnv:
		h.mu.Lock()
		env, ok := h.envs[handle]
		if ok {
			for _, dbc := range h.dbcs {
				if dbc.env == handle {
					h.diags[handle] = []api.DiagRecord{{State: "HY010", Message: "Function sequence error: connections still allocated"}}
					h.mu.Unlock()
					return api.Error
				}
			}
		}
		delete(h.envs, handle)
		delete(h.diags, handle)
		h.mu.Unlock()
		if !ok {
			return api.InvalidHandle
		}
		for key, db := range env.pools {
			if err := db.Close(); err != nil {
				h.logger.Warn("Error closing pooled database", "error", err)
			}
			delete(env.pools, key)
		}
		return api.Success
	}
	return api.InvalidHandle
}

func (h *Host) SetEnvAttr(env api.Handle, attr int32, value uintptr) api.Return {
	if env == api.NullHandle {
		if attr != api.AttrConnectionPooling {
			return api.Error
		}
		h.mu.Lock()
		h.processPooling = value != api.CPOff
		h.mu.Unlock()
		return api.Success
	}

	e := h.lookupEnv(env)
	if e == nil {
		return api.InvalidHandle
	}
	h.begin(env)
	switch attr {
	case api.AttrODBCVersion:
		e.version = value
	case api.AttrConnectionPooling:
		e.pooling = value != api.CPOff
	case api.AttrCPMatch:
	default:
		return h.fail(env, "HY092", fmt.Sprintf("Invalid attribute identifier %d", attr))
	}
	return api.Success
}

func (h *Host) SetConnectAttr(dbc api.Handle, attr int32, value uintptr) api.Return {
	c := h.lookupDbc(dbc)
	if c == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLSetConnectAttr", dbc) {
		return api.StillExecuting
	}
	h.begin(dbc)
	if attr != api.AttrAutocommit {
		return h.fail(dbc, "HYC00", fmt.Sprintf("Optional feature not implemented: connection attribute %d", attr))
	}

	on := value != api.AutocommitOff
	if on && c.tx != nil {
		// Switching auto-commit back on commits the open transaction.
		err := c.tx.Commit()
		c.tx = nil
		if err != nil {
			return h.failErr(dbc, err)
		}
	}
	c.autocommit = on
	return api.Success
}

func (h *Host) SetStmtAttr(stmt api.Handle, attr int32, value uintptr) api.Return {
	s := h.lookupStmt(stmt)
	if s == nil {
		return api.InvalidHandle
	}
	h.begin(stmt)
	if attr != api.AttrAsyncEnable {
		return h.fail(stmt, "HYC00", fmt.Sprintf("Optional feature not implemented: statement attribute %d", attr))
	}
	s.async = value == api.AsyncEnableOn
	return api.Success
}

func (h *Host) DriverConnect(dbc api.Handle, connectionString string) api.Return {
	c := h.lookupDbc(dbc)
	if c == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLDriverConnect", dbc) {
		return api.StillExecuting
	}
	h.begin(dbc)
	if c.connected() {
		return h.fail(dbc, "08002", "Connection name in use")
	}

	db, pooled, err := h.database(c.env, connectionString)
	if err != nil {
		if errors.Is(err, errUnknownDriver) {
			return h.fail(dbc, "IM002", "Data source name not found and no default driver specified")
		}
		return h.fail(dbc, "08001", err.Error())
	}
	conn, err := db.Connx(context.Background())
	if err != nil {
		if !pooled {
			_ = db.Close()
		}
		return h.fail(dbc, "08001", fmt.Sprintf("Unable to establish connection: %v", err))
	}
	c.db, c.pooled, c.conn = db, pooled, conn
	c.autocommit = true
	h.logger.Debug("Connected", "dbc", dbc, "driver", db.DriverName(), "pooled", pooled)
	return api.Success
}

// database returns the database for a connection string, sharing one
// per environment when pooling is enabled.
func (h *Host) database(env api.Handle, connectionString string) (*sqlx.DB, bool, error) {
	h.mu.Lock()
	e := h.envs[env]
	pooling := e != nil && e.pooling
	if pooling {
		if db, ok := e.pools[connectionString]; ok {
			h.mu.Unlock()
			return db, true, nil
		}
	}
	h.mu.Unlock()

	source, err := resolveDataSource(connectionString, pooling)
	if err != nil {
		return nil, false, err
	}
	db, err := sqlx.Open(source.driverName, source.dsn)
	if err != nil {
		return nil, false, err
	}
	if !pooling {
		return db, false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := e.pools[connectionString]; ok {
		_ = db.Close()
		return existing, true, nil
	}
	e.pools[connectionString] = db
	return db, true, nil
}

func (h *Host) Disconnect(dbc api.Handle) api.Return {
	c := h.lookupDbc(dbc)
	if c == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLDisconnect", dbc) {
		return api.StillExecuting
	}
	h.begin(dbc)
	if !c.connected() {
		return h.fail(dbc, "08003", "Connection not open")
	}
	if err := h.disconnect(dbc, c); err != nil {
		return h.failErr(dbc, err)
	}
	return api.Success
}

// disconnect frees the statements of dbc, rolls back an open transaction
// and returns the pinned connection.
func (h *Host) disconnect(dbc api.Handle, c *connection) error {
	h.mu.Lock()
	var owned []*statement
	for handle, s := range h.stmts {
		if s.dbc == dbc {
			owned = append(owned, s)
			delete(h.stmts, handle)
			delete(h.diags, handle)
		}
	}
	h.mu.Unlock()
	for _, s := range owned {
		s.closeCursor()
	}

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if !c.pooled {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.conn, c.db = nil, nil
	h.logger.Debug("Disconnected", "dbc", dbc)
	return errors.Join(errs...)
}

func (h *Host) EndTran(kind api.HandleType, handle api.Handle, completion int16) api.Return {
	if h.stillExecuting("SQLEndTran", handle) {
		return api.StillExecuting
	}
	switch kind {
	case api.HandleDbc:
		c := h.lookupDbc(handle)
		if c == nil {
			return api.InvalidHandle
		}
		h.begin(handle)
		if err := endTran(c, completion); err != nil {
			return h.failErr(handle, err)
		}
		return api.Success

	case api.HandleEnv:
		h.mu.Lock()
		if _, ok := h.envs[handle]; !ok {
			h.mu.Unlock()
			return api.InvalidHandle
		}
		var conns []*connection
		for _, c := range h.dbcs {
			if c.env == handle {
				conns = append(conns, c)
			}
		}
		h.mu.Unlock()
		h.begin(handle)
		var errs []error
		for _, c := range conns {
			if err := endTran(c, completion); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return h.failErr(handle, err)
		}
		return api.Success
	}
	return api.InvalidHandle
}

func endTran(c *connection, completion int16) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if completion == api.Rollback {
		return tx.Rollback()
	}
	return tx.Commit()
}

// executor returns where statements of c run: the open transaction in
// manual-commit mode, beginning it on first use.
func (c *connection) executor(ctx context.Context) (executor, error) {
	if c.autocommit {
		return c.conn, nil
	}
	if c.tx == nil {
		tx, err := c.conn.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (h *Host) GetDiagRec(kind api.HandleType, handle api.Handle, record int16) (api.DiagRecord, api.Return) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recs := h.diags[handle]
	if record < 1 {
		return api.DiagRecord{}, api.Error
	}
	if int(record) > len(recs) {
		return api.DiagRecord{}, api.NoData
	}
	return recs[record-1], api.Success
}
