package multiplexer

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
)

var ErrInvalidAddress = errors.New("invalid ip address format")

const banSQL = `CREATE TABLE IF NOT EXISTS ban (
	addr VARCHAR(39) NOT NULL,
	name VARCHAR(32) NOT NULL
);`

// A BanList stores banned IP addresses
type BanList struct {
	db *DB
}

// NewBanList creates the ban table in db if it doesn't exist
func NewBanList(db *DB) (*BanList, error) {
	if _, err := db.Exec(banSQL); err != nil {
		return nil, err
	}

	return &BanList{db: db}, nil
}

// readBanItem selects and reads a ban DB entry
func (b *BanList) readBanItem(addr string) (string, error) {
	var r string
	err := b.db.QueryRow(`SELECT name FROM ban WHERE addr = ?;`, []interface{}{addr}, &r)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	return r, nil
}

// Ban adds an IP address to the ban list
// name is a note on who the address belongs to
func (b *BanList) Ban(addr, name string) error {
	if net.ParseIP(addr) == nil {
		return ErrInvalidAddress
	}

	banned, _, err := b.IsBannedIP(addr)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("ip address %s is already banned", addr)
	}

	if name == "" {
		name = "not known"
	}

	_, err = b.db.Exec(`INSERT INTO ban (
		addr,
		name
	) VALUES (
		?,
		?
	);`, addr, name)
	return err
}

// Unban removes every entry matching an address or name
func (b *BanList) Unban(nameOrAddr string) error {
	_, err := b.db.Exec(`DELETE FROM ban WHERE name = ? OR addr = ?;`, nameOrAddr, nameOrAddr)
	return err
}

// IsBannedIP reports whether an IP address is banned
// and the name it was banned under
func (b *BanList) IsBannedIP(addr string) (bool, string, error) {
	name, err := b.readBanItem(addr)
	if err != nil {
		return true, "", err
	}

	return name != "", name, nil
}

// IsBanned reports whether the IP address of a remote address is banned
// Lookup failures report the address as banned
func (b *BanList) IsBanned(addr net.Addr) (bool, string, error) {
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return true, "", err
		}
		ip = net.ParseIP(host)
	}

	if ip == nil {
		return true, "", ErrInvalidAddress
	}

	return b.IsBannedIP(ip.String())
}

// List returns the banned addresses and their names
func (b *BanList) List() (map[string]string, error) {
	rows, err := b.db.Query(`SELECT addr, name FROM ban;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := make(map[string]string)
	for rows.Next() {
		var addr, name string
		if err := rows.Scan(&addr, &name); err != nil {
			return nil, err
		}

		r[addr] = name
	}

	return r, rows.Err()
}
