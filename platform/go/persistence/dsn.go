package persistence

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DSN captures the pieces of a Postgres connection string. The provisioner
// and resolver compose tenant DSNs from a server-level template plus the
// tenant's database name and credentials.
type DSN struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
}

// String renders the DSN as a postgres:// URL with escaped credentials.
func (d DSN) String() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted renders the DSN with the password masked, safe for logs.
func (d DSN) Redacted() string {
	masked := d
	masked.Password = "xxxxx"
	return masked.String()
}

// ForDatabase returns a copy of the DSN pointing at another database with the
// given credentials.
func (d DSN) ForDatabase(database, user, password string) DSN {
	out := d
	out.Database = database
	out.User = user
	out.Password = password
	return out
}

// ParseDSN extracts the server-level template from a full connection URL.
func ParseDSN(raw string) (DSN, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DSN{}, fmt.Errorf("parse dsn: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DSN{}, fmt.Errorf("unsupported dsn scheme %q", u.Scheme)
	}

	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return DSN{}, fmt.Errorf("parse dsn port: %w", err)
		}
	}

	out := DSN{
		Host:     u.Hostname(),
		Port:     port,
		Database: "",
		SSLMode:  u.Query().Get("sslmode"),
	}
	if len(u.Path) > 1 {
		out.Database = u.Path[1:]
	}
	if u.User != nil {
		out.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			out.Password = pw
		}
	}
	if ct := u.Query().Get("connect_timeout"); ct != "" {
		secs, err := strconv.Atoi(ct)
		if err != nil {
			return DSN{}, fmt.Errorf("parse dsn connect_timeout: %w", err)
		}
		out.ConnectTimeout = time.Duration(secs) * time.Second
	}
	return out, nil
}
