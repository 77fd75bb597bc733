package cli

import (
	"fmt"
	"net/netip"
	"reflect"
	"strconv"

	"github.com/alecthomas/kong"

	"go.hackfix.me/wgfence/db/models"
)

// prefixMapper parses IPv4 networks in CIDR notation.
type prefixMapper struct{}

var _ kong.Mapper = (*prefixMapper)(nil)

// Decode implements the kong.Mapper interface.
func (prefixMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("network", &value)
	if err != nil {
		return err
	}

	prefix, err := models.ParseNetwork(kctx.Value.Name, value)
	if err != nil {
		return err
	}

	target.Set(reflect.ValueOf(prefix))

	return nil
}

// addrMapper parses IPv4 addresses.
type addrMapper struct{}

var _ kong.Mapper = (*addrMapper)(nil)

// Decode implements the kong.Mapper interface.
func (addrMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("address", &value)
	if err != nil {
		return err
	}

	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("'%s' is not an IPv4 address", value)
	}

	target.Set(reflect.ValueOf(addr))

	return nil
}

// optionalString is a flag value that tracks whether it was provided, so an
// empty value can be told apart from an omitted flag.
type optionalString struct {
	Value string
	Set   bool
}

// Decode implements the kong.MapperValue interface.
func (o *optionalString) Decode(kctx *kong.DecodeContext) error {
	if err := kctx.Scan.PopValueInto("value", &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}

// optionalBool is a boolean flag value that tracks whether it was provided.
// It requires an explicit value, e.g. --enabled=false.
type optionalBool struct {
	Value bool
	Set   bool
}

// Decode implements the kong.MapperValue interface.
func (o *optionalBool) Decode(kctx *kong.DecodeContext) error {
	var value string
	if err := kctx.Scan.PopValueInto("bool", &value); err != nil {
		return err
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s'", value)
	}
	o.Value = v
	o.Set = true
	return nil
}

// ptr returns a pointer to the value if it was set, or nil.
func (o optionalBool) ptr() *bool {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

func (o optionalString) ptr() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}
