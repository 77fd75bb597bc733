package nft

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("ok/full_table", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable(FamilyIP, "wg_acl_v4")
		tbl.AddSet(&Set{Name: "ports_a", Type: SetTypeInetService, Interval: true, Elements: []string{"22", "80-90"}})
		fwd := tbl.AddChain(&Chain{
			Name: "forward", Type: ChainTypeFilter, Hook: HookForward, Policy: "drop",
		})
		fwd.Add("ct state established,related accept", "")
		fwd.Add(`iifname "wg0" tcp dport @ports_a accept`, `ssh "admin"`)

		out, err := Render(tbl)
		require.NoError(t, err)

		exp := "table ip wg_acl_v4 {\n" +
			"\tset ports_a {\n" +
			"\t\ttype inet_service\n" +
			"\t\tflags interval\n" +
			"\t\telements = { 22, 80-90 }\n" +
			"\t}\n" +
			"\n" +
			"\tchain forward {\n" +
			"\t\ttype filter hook forward priority 0; policy drop;\n" +
			"\t\tct state established,related accept\n" +
			"\t\tiifname \"wg0\" tcp dport @ports_a accept comment \"ssh 'admin'\"\n" +
			"\t}\n" +
			"}\n"
		assert.Equal(t, exp, out)
	})

	t.Run("ok/fragment_without_hook", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable(FamilyIP, "wg_egress_nat")
		tbl.AddSet(&Set{Name: "clients_exit1", Type: SetTypeIPv4Addr})
		tbl.Chain("postrouting").Add(`oifname "exit1" masquerade`, "")

		out, err := Render(tbl)
		require.NoError(t, err)
		assert.NotContains(t, out, "type nat")
		assert.NotContains(t, out, "elements")
		assert.Contains(t, out, "\tchain postrouting {\n\t\toifname \"exit1\" masquerade\n\t}\n")
	})

	t.Run("ok/negative_priority", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable(FamilyIP, "t")
		tbl.AddChain(&Chain{Name: "prerouting", Type: ChainTypeFilter, Hook: HookPrerouting, Priority: -149})
		out, err := Render(tbl)
		require.NoError(t, err)
		assert.Contains(t, out, "type filter hook prerouting priority -149;\n")
	})

	errTests := []struct {
		name   string
		table  *Table
		expErr string
	}{
		{
			name:   "err/table_name",
			table:  NewTable(FamilyIP, "bad; flush ruleset"),
			expErr: "invalid table name 'bad; flush ruleset'",
		},
		{
			name:   "err/family",
			table:  NewTable("bridge", "t"),
			expErr: "unsupported table family 'bridge'",
		},
		{
			name: "err/set_element",
			table: &Table{Family: FamilyIP, Name: "t", Sets: []*Set{
				{Name: "s", Type: SetTypeInetService, Elements: []string{"22 }"}},
			}},
			expErr: "invalid element '22 }' in set s",
		},
		{
			name: "err/duplicate_set",
			table: &Table{Family: FamilyIP, Name: "t", Sets: []*Set{
				{Name: "s", Type: SetTypeIPv4Addr}, {Name: "s", Type: SetTypeIPv4Addr},
			}},
			expErr: "duplicate set name 's'",
		},
		{
			name: "err/policy_without_hook",
			table: &Table{Family: FamilyIP, Name: "t", Chains: []*Chain{
				{Name: "c", Policy: "drop"},
			}},
			expErr: "policy requires a hook",
		},
	}

	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Render(tt.table)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expErr)
		})
	}
}

func TestComment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		exp  string
	}{
		{name: "ok/plain", in: "Allow SSH", exp: "Allow SSH"},
		{name: "ok/quotes", in: `say "hi"`, exp: "say 'hi'"},
		{name: "ok/shell_chars", in: "a $(reboot) `id` \\n", exp: "a (reboot) id n"},
		{name: "ok/control_chars", in: "a\nb\tc", exp: "a b c"},
		{name: "ok/truncate", in: strings.Repeat("x", 200), exp: strings.Repeat("x", 128)},
		{name: "ok/truncate_multibyte", in: strings.Repeat("é", 100), exp: strings.Repeat("é", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exp, Comment(tt.in))
		})
	}
}

func TestSetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ports_10_8_0_0_24_192_168_1_0_24_tcp",
		SetName("ports", "10.8.0.0/24_192.168.1.0/24_tcp"))
	assert.Equal(t, "clients_exit_1_x", SetName("clients", "exit-1.x"))
}
