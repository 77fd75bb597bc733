package nftables

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	gnft "github.com/google/nftables"
	"golang.org/x/sys/unix"

	"go.hackfix.me/wgfence/firewall/nft"
	ftypes "go.hackfix.me/wgfence/firewall/types"
)

// NFTables is an abstraction over the Linux nftables firewall. It only
// inspects and deletes tables over netlink; rulesets are loaded by the
// generated scripts through the nft tool.
type NFTables struct {
	conn   *gnft.Conn
	logger *slog.Logger
}

var _ ftypes.Firewall = (*NFTables)(nil)

// New returns a new NFTables instance. It returns an error if the netlink
// connection to the kernel fails.
func New(logger *slog.Logger) (*NFTables, error) {
	conn, err := gnft.New()
	if err != nil {
		return nil, fmt.Errorf("failed establishing netlink connection: %w", err)
	}

	return &NFTables{conn: conn, logger: logger.With("type", "nftables")}, nil
}

// TableExists returns true if the table is currently loaded in the kernel.
func (n *NFTables) TableExists(family nft.Family, name string) (bool, error) {
	fam, err := tableFamily(family)
	if err != nil {
		return false, err
	}

	_, err = n.conn.ListTableOfFamily(name, fam)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed getting table %s: %w", name, err)
	}

	return true, nil
}

// DeleteTable deletes the table with all its contents. Deleting a table that
// doesn't exist is a no-op.
func (n *NFTables) DeleteTable(family nft.Family, name string) error {
	exists, err := n.TableExists(family, name)
	if err != nil {
		return err
	}
	if !exists {
		n.logger.Debug("table doesn't exist, nothing to delete", "family", family, "name", name)
		return nil
	}

	fam, _ := tableFamily(family)
	n.conn.DelTable(&gnft.Table{Name: name, Family: fam})
	// The table may have been removed by a script since it was listed.
	if err = n.conn.Flush(); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("failed deleting table %s: %w", name, err)
	}

	n.logger.Info("deleted table", "family", family, "name", name)

	return nil
}

func tableFamily(family nft.Family) (gnft.TableFamily, error) {
	switch family {
	case nft.FamilyIP:
		return gnft.TableFamilyIPv4, nil
	case nft.FamilyINet:
		return gnft.TableFamilyINet, nil
	}
	return 0, fmt.Errorf("unsupported table family '%s'", family)
}
