package sqlhost

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	driverSQLite    = "sqlite3"
	driverSQLServer = "sqlserver"
)

var errUnknownDriver = errors.New("data source name not found and no default driver specified")

// parseConnectionString splits an ODBC connection string into its
// attributes. Keys are case-insensitive and values may be wrapped in
// braces, with "}}" escaping a closing brace.
func parseConnectionString(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ';' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("attribute %q has no value", strings.TrimSpace(s[i:]))
		}
		key := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		if key == "" {
			return nil, fmt.Errorf("empty attribute name at offset %d", i)
		}
		i += eq + 1

		var value string
		if i < len(s) && s[i] == '{' {
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == '}' {
					if i+1 < len(s) && s[i+1] == '}' {
						b.WriteByte('}')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated braced value for %q", key)
			}
			value = b.String()
			for i < len(s) && s[i] != ';' {
				i++
			}
		} else {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				end = len(s) - i
			}
			value = strings.TrimSpace(s[i : i+end])
			i += end
		}
		attrs[key] = value
	}
	return attrs, nil
}

// dataSource is a resolved connection string.
type dataSource struct {
	driverName string
	dsn        string
}

// resolveDataSource picks the database/sql driver and DSN for an ODBC
// connection string. Shared in-memory sqlite databases get a unique name
// so pooled connections of one environment see the same data.
func resolveDataSource(connectionString string, pooling bool) (dataSource, error) {
	attrs, err := parseConnectionString(connectionString)
	if err != nil {
		return dataSource{}, err
	}
	driver := strings.ToLower(attrs["driver"])
	_, hasServer := attrs["server"]

	switch {
	case strings.Contains(driver, "sqlite") || (driver == "" && !hasServer && attrs["database"] != ""):
		database := attrs["database"]
		if database == "" {
			database = ":memory:"
		}
		if database == ":memory:" && pooling {
			database = "file:memdb-" + uuid.NewString() + "?mode=memory&cache=shared"
		}
		return dataSource{driverName: driverSQLite, dsn: database}, nil

	case strings.Contains(driver, "sql server") || (driver == "" && hasServer):
		dsn, err := buildSQLServerDSN(attrs)
		if err != nil {
			return dataSource{}, err
		}
		return dataSource{driverName: driverSQLServer, dsn: dsn}, nil

	default:
		return dataSource{}, errUnknownDriver
	}
}

func buildSQLServerDSN(attrs map[string]string) (string, error) {
	server := strings.TrimPrefix(attrs["server"], "tcp:")
	if server == "" {
		return "", errors.New("Server is required")
	}
	host, instance, _ := strings.Cut(server, `\`)
	port := attrs["port"]
	if h, p, ok := strings.Cut(host, ","); ok {
		host, port = h, p
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return "", fmt.Errorf("invalid port %q", port)
		}
		host = net.JoinHostPort(host, port)
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if instance != "" {
		u.Path = instance
	}
	user := firstNonEmpty(attrs["uid"], attrs["user id"], attrs["user"])
	if user != "" {
		u.User = url.UserPassword(user, firstNonEmpty(attrs["pwd"], attrs["password"]))
	}
	q := url.Values{}
	if db := firstNonEmpty(attrs["database"], attrs["initial catalog"]); db != "" {
		q.Set("database", db)
	}
	if v, ok := attrs["encrypt"]; ok {
		q.Set("encrypt", strings.ToLower(v))
	}
	if v, ok := attrs["trustservercertificate"]; ok {
		q.Set("TrustServerCertificate", strings.ToLower(v))
	}
	if v, ok := attrs["app"]; ok {
		q.Set("app name", v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
