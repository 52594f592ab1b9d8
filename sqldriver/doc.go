// Package sqldriver registers a database/sql driver named "odbcbridge"
// that runs every statement through a bridge.Session.
//
// Usage:
//
//  1. Create the environment and the dispatcher, then hand them to the
//     driver before opening a database:
//
//     env, err := odbc.InitOnce(cli, odbc.EnvironmentOptions{Pooling: true})
//     queue := dispatch.New(dispatch.Config{})
//     sqldriver.SetEnvironment(env, queue)
//
//     Passing a nil env uses the environment created by odbc.InitOnce.
//
//  2. Open a database with an ODBC connection string as the DSN:
//
//     db, err := sql.Open("odbcbridge", "Driver={ODBC Driver 18 for SQL Server};Server=db;UID=app;PWD=secret")
//
// Limitations:
//
//   - Arguments are interpolated into the statement text as SQL literals;
//     only positional ? placeholders are supported.
//   - Result sets are read completely before Query returns.
//   - LastInsertId is not supported.
//   - A cancelled context abandons the wait for the running operation and
//     marks the connection bad so database/sql discards it.
package sqldriver
