package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	actx "go.hackfix.me/wgfence/app/context"
)

func TestAppInit(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	t.Run("err/not_initialized", func(t *testing.T) {
		err := app.Run("interface", "list")
		h(assert.EqualError(t, err, "wgfence is not initialized"))
	})

	t.Run("ok/init", func(t *testing.T) {
		err := app.Run("init")
		h(assert.NoError(t, err))
		h(assert.True(t, strings.HasPrefix(app.stdout.String(), "Initialized wgfence ")))
		h(assert.True(t, app.exists("/config.json")))
	})

	t.Run("ok/initialized", func(t *testing.T) {
		err := app.Run("interface", "list")
		h(assert.NoError(t, err))
		h(assert.Equal(t, "", app.stdout.String()))
	})

	t.Run("err/already_initialized", func(t *testing.T) {
		err := app.Run("init")
		h(assert.ErrorContains(t, err, "wgfence is already initialized with version "))
	})
}

func TestAppInterfaceIntegration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		expStdout string
		expErr    string
	}{
		{
			name: "ok/add_1",
			args: []string{"add", "wg0", "10.8.0.0/24"},
		},
		{
			name: "ok/add_2",
			args: []string{"add", "wg1", "10.9.0.0/24"},
		},
		{
			name: "ok/list",
			args: []string{"list"},
			expStdout: "" +
				" NAME  SUBNET       RULES  CLIENTS \n" +
				" wg0   10.8.0.0/24  0      0       \n" +
				" wg1   10.9.0.0/24  0      0       \n",
		},
		{
			name:   "err/interface_exists",
			args:   []string{"add", "wg0", "10.10.0.0/24"},
			expErr: "interface with name 'wg0' already exists",
		},
		{
			name:   "err/ipv6_subnet",
			args:   []string{"add", "wg2", "fd00::/64"},
			expErr: "'fd00::/64' must be an IPv4 network in CIDR notation",
		},
		{
			name:   "err/invalid_name",
			args:   []string{"add", "wg0;reboot", "10.10.0.0/24"},
			expErr: "invalid interface name",
		},
		{
			name: "ok/remove",
			args: []string{"rm", "wg1"},
		},
		{
			name: "ok/list_after_remove",
			args: []string{"ls"},
			expStdout: "" +
				" NAME  SUBNET       RULES  CLIENTS \n" +
				" wg0   10.8.0.0/24  0      0       \n",
		},
		{
			name:   "err/remove_interface_doesnot_exist",
			args:   []string{"remove", "wg1"},
			expErr: "interface with name 'wg1' doesn't exist",
		},
	}

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	err = initTestDB(app.ctx)
	h(assert.NoError(t, err))

	for _, tt := range tests {
		args := []string{"interface"}
		t.Run(tt.name, func(t *testing.T) {
			args = append(args, tt.args...)
			err = app.Run(args...)
			stdout := app.stdout.String()

			if tt.expErr != "" {
				h(assert.ErrorContains(t, causeOf(err), tt.expErr))
			} else {
				h(assert.NoError(t, err))
			}

			h(assert.Equal(t, tt.expStdout, stdout))
		})
	}
}

func TestAppACLIntegration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		expStdout string
		expErr    string
		check     func(t *testing.T, app *testApp)
	}{
		{
			name: "ok/config_enable",
			args: []string{"acl", "config", "set", "wg0", "--enabled=true"},
			expStdout: "" +
				" SETTING              VALUE         \n" +
				" interface            wg0           \n" +
				" enabled              yes           \n" +
				" default_policy       drop          \n" +
				" allow_public_egress  no            \n" +
				" exit_node_client     -             \n" +
				" table                wg_acl_v4_wg0 \n",
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-acl-setup.sh")
				assert.NoError(t, err)
				assert.Contains(t, setup, "policy drop;")
				assert.True(t, app.exists(wgDir+"/wg0-acl-cleanup.sh"))
				assert.Contains(t, app.runner.Commands, "bash "+wgDir+"/wg0-acl-setup.sh")
			},
		},
		{
			name:      "ok/rule_add",
			args:      []string{"acl", "rule", "add", "wg0", "10.8.0.0/24", "192.168.1.0/24", "tcp", "22", "--description", "ssh"},
			expStdout: "Added rule 1\n",
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-acl-setup.sh")
				assert.NoError(t, err)
				assert.Contains(t, setup, "elements = { 22 }")
				assert.Contains(t, setup, `comment "ssh"`)
			},
		},
		{
			name: "ok/rule_update",
			args: []string{"acl", "rule", "update", "1", "--ports", "22,443"},
			expStdout: "" +
				" ID  INTERFACE  SOURCE       DESTINATION     PROTOCOL  PORTS   ENABLED  DESCRIPTION \n" +
				" 1   wg0        10.8.0.0/24  192.168.1.0/24  tcp       22,443  yes      ssh         \n",
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-acl-setup.sh")
				assert.NoError(t, err)
				assert.Contains(t, setup, "elements = { 22, 443 }")
			},
		},
		{
			name: "ok/rule_list",
			args: []string{"acl", "rule", "ls", "wg0"},
			expStdout: "" +
				" ID  INTERFACE  SOURCE       DESTINATION     PROTOCOL  PORTS   ENABLED  DESCRIPTION \n" +
				" 1   wg0        10.8.0.0/24  192.168.1.0/24  tcp       22,443  yes      ssh         \n",
		},
		{
			name:   "err/icmp_with_ports",
			args:   []string{"acl", "rule", "add", "wg0", "10.8.0.0/24", "0.0.0.0/0", "icmp", "22"},
			expErr: "invalid ports: must be empty for icmp",
		},
		{
			name:   "err/ports_required",
			args:   []string{"acl", "rule", "add", "wg0", "10.8.0.0/24", "0.0.0.0/0", "udp"},
			expErr: "invalid ports: are required for udp",
		},
		{
			name:   "err/unknown_protocol",
			args:   []string{"acl", "rule", "add", "wg0", "10.8.0.0/24", "0.0.0.0/0", "sctp", "22"},
			expErr: "failed parsing CLI arguments",
		},
		{
			name:   "err/unknown_interface",
			args:   []string{"acl", "rule", "add", "wg9", "10.8.0.0/24", "0.0.0.0/0", "tcp", "22"},
			expErr: "interface with name 'wg9' doesn't exist",
		},
		{
			name:   "err/rule_doesnot_exist",
			args:   []string{"acl", "rule", "show", "2"},
			expErr: "ACL rule with ID 2 doesn't exist",
		},
		{
			name:   "err/invalid_policy",
			args:   []string{"acl", "config", "set", "wg0", "--default-policy", "reject"},
			expErr: "invalid default policy: 'reject' must be either drop or accept",
		},
		{
			name:      "ok/hooks",
			args:      []string{"hooks", "wg0"},
			expStdout: "PostUp = " + wgDir + "/wg0-acl-setup.sh\nPreDown = " + wgDir + "/wg0-acl-cleanup.sh\n",
		},
		{
			name: "ok/apply",
			args: []string{"apply", "wg0"},
		},
		{
			name: "ok/teardown",
			args: []string{"teardown", "wg0"},
			check: func(t *testing.T, app *testApp) {
				assert.Contains(t, app.runner.Commands, "bash "+wgDir+"/wg0-acl-cleanup.sh")
			},
		},
		{
			name: "ok/rule_remove",
			args: []string{"acl", "rule", "rm", "1"},
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-acl-setup.sh")
				assert.NoError(t, err)
				assert.NotContains(t, setup, "dport @ports_")
			},
		},
		{
			name: "ok/rule_list_empty",
			args: []string{"acl", "rule", "ls", "wg0"},
		},
		{
			name: "ok/config_disable",
			args: []string{"acl", "config", "set", "wg0", "--enabled=false"},
			expStdout: "" +
				" SETTING              VALUE         \n" +
				" interface            wg0           \n" +
				" enabled              no            \n" +
				" default_policy       drop          \n" +
				" allow_public_egress  no            \n" +
				" exit_node_client     -             \n" +
				" table                wg_acl_v4_wg0 \n",
			check: func(t *testing.T, app *testApp) {
				assert.False(t, app.exists(wgDir+"/wg0-acl-setup.sh"))
				assert.False(t, app.exists(wgDir+"/wg0-acl-cleanup.sh"))
			},
		},
	}

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	err = initTestDB(app.ctx)
	h(assert.NoError(t, err))

	err = app.Run("interface", "add", "wg0", "10.8.0.0/24")
	h(assert.NoError(t, err))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err = app.Run(tt.args...)
			stdout := app.stdout.String()

			if tt.expErr != "" {
				h(assert.ErrorContains(t, causeOf(err), tt.expErr))
			} else {
				h(assert.NoError(t, err))
				h(assert.Equal(t, tt.expStdout, stdout))
			}

			if tt.check != nil {
				tt.check(t, app)
				h(!t.Failed())
			}
		})
	}
}

func TestAppEgressIntegration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		expStdout string
		expErr    string
		check     func(t *testing.T, app *testApp)
	}{
		{
			name: "ok/devices",
			args: []string{"egress", "devices"},
			expStdout: "" +
				" NAME    UP   ACTIVE \n" +
				" exit_a  yes  yes    \n" +
				" exit_b  no   no     \n",
		},
		{
			name:      "ok/client_add_egress",
			args:      []string{"client", "add", "wg0", "laptop", "10.8.0.2", "--egress", "--device", "exit_a"},
			expStdout: "Added client laptop with ID 1\n",
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-egress-setup.sh")
				assert.NoError(t, err)
				assert.Contains(t, setup, "set clients_0_exit_a {")
				assert.Contains(t, setup, "elements = { 10.8.0.2 }")
				assert.Contains(t, app.runner.Commands, "bash "+wgDir+"/wg0-egress-setup.sh")
			},
		},
		{
			name:      "ok/client_add",
			args:      []string{"client", "add", "wg0", "phone", "10.8.0.3"},
			expStdout: "Added client phone with ID 2\n",
		},
		{
			name: "ok/client_list",
			args: []string{"client", "ls", "wg0"},
			expStdout: "" +
				" ID  NAME    ADDRESS   ENABLED  EGRESS \n" +
				" 1   laptop  10.8.0.2  yes      exit_a \n" +
				" 2   phone   10.8.0.3  yes      -      \n",
		},
		{
			name:   "err/client_exists",
			args:   []string{"client", "add", "wg0", "phone", "10.8.0.4"},
			expErr: "client with name 'phone' or address 10.8.0.4 already exists",
		},
		{
			name:   "err/ipv6_address",
			args:   []string{"client", "add", "wg0", "tablet", "fd00::2"},
			expErr: "'fd00::2' is not an IPv4 address",
		},
		{
			name:   "err/unconfigured_device",
			args:   []string{"client", "egress", "2", "--device", "exit_z"},
			expErr: "invalid egress device: exit node 'exit_z' is not configured",
		},
		{
			name: "ok/client_egress_default",
			args: []string{"client", "egress", "2"},
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-egress-setup.sh")
				assert.NoError(t, err)
				assert.Contains(t, setup, "set clients_default {")
			},
		},
		{
			name: "ok/reconcile_removed_exit_node",
			args: []string{"egress", "reconcile", "wg0"},
			// exit_a.conf is removed before this step.
			expStdout: "Disabled egress of client laptop (1)\n",
			check: func(t *testing.T, app *testApp) {
				setup, err := app.readFile(wgDir + "/wg0-egress-setup.sh")
				assert.NoError(t, err)
				assert.NotContains(t, setup, "exit_a")
				assert.Contains(t, setup, "elements = { 10.8.0.3 }")
			},
		},
		{
			name: "ok/config_disable",
			args: []string{"egress", "config", "set", "wg0", "--enabled=false"},
			expStdout: "" +
				" SETTING    VALUE             \n" +
				" interface  wg0               \n" +
				" enabled    no                \n" +
				" table      wg_egress_nat_wg0 \n",
			check: func(t *testing.T, app *testApp) {
				assert.False(t, app.exists(wgDir+"/wg0-egress-setup.sh"))
				assert.False(t, app.exists(wgDir+"/wg0-egress-cleanup.sh"))
			},
		},
		{
			name: "ok/client_remove",
			args: []string{"client", "rm", "1"},
		},
		{
			name:   "err/client_doesnot_exist",
			args:   []string{"client", "rm", "1"},
			expErr: "client with ID 1 doesn't exist",
		},
	}

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	h(assert.NoError(t, app.writeExitNodes("exit_a", "exit_b")))
	app.inspector.Up["exit_a"] = true
	app.inspector.Addressed["exit_a"] = true

	err = initTestDB(app.ctx)
	h(assert.NoError(t, err))

	err = app.Run("interface", "add", "wg0", "10.8.0.0/24")
	h(assert.NoError(t, err))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "ok/reconcile_removed_exit_node" {
				h(assert.NoError(t, app.fs.Remove(exitDir+"/exit_a.conf")))
			}

			err = app.Run(tt.args...)
			stdout := app.stdout.String()

			if tt.expErr != "" {
				h(assert.ErrorContains(t, causeOf(err), tt.expErr))
			} else {
				h(assert.NoError(t, err))
				h(assert.Equal(t, tt.expStdout, stdout))
			}

			if tt.check != nil {
				tt.check(t, app)
				h(!t.Failed())
			}
		})
	}
}

func TestAppConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		expStdout string
		expErr    string
	}{
		{
			name: "ok/show_defaults",
			args: []string{"show"},
			expStdout: "" +
				" OPTION               VALUE                     \n" +
				" paths.wireguard_dir  /etc/wireguard            \n" +
				" paths.exit_node_dir  /etc/wireguard/exit_nodes \n" +
				" egress.base_mark     0x10                      \n" +
				" egress.base_table    200                       \n" +
				" metrics.textfile                               \n" +
				" watch.debounce       2s                        \n" +
				" firewall.type        nftables                  \n",
		},
		{
			name: "ok/set_base_mark",
			args: []string{"set", "egress.base_mark", "0x20"},
		},
		{
			name: "ok/set_debounce",
			args: []string{"set", "watch.debounce", "500ms"},
		},
		{
			name:   "err/unknown_option",
			args:   []string{"set", "egress.mark", "1"},
			expErr: "unknown configuration option 'egress.mark'",
		},
		{
			name:   "err/zero_base_table",
			args:   []string{"set", "egress.base_table", "0"},
			expErr: "invalid value '0' for egress.base_table: must be greater than 0",
		},
		{
			name:   "err/negative_debounce",
			args:   []string{"set", "watch.debounce", "-1s"},
			expErr: "invalid watch debounce '-1s': must not be negative",
		},
		{
			name: "ok/show_changed",
			args: []string{"show"},
			expStdout: "" +
				" OPTION               VALUE                     \n" +
				" paths.wireguard_dir  /etc/wireguard            \n" +
				" paths.exit_node_dir  /etc/wireguard/exit_nodes \n" +
				" egress.base_mark     0x20                      \n" +
				" egress.base_table    200                       \n" +
				" metrics.textfile                               \n" +
				" watch.debounce       500ms                     \n" +
				" firewall.type        nftables                  \n",
		},
	}

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	// The config command works without an initialized database.
	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	for _, tt := range tests {
		args := []string{"config"}
		t.Run(tt.name, func(t *testing.T) {
			args = append(args, tt.args...)
			err = app.Run(args...)
			stdout := app.stdout.String()

			if tt.expErr != "" {
				h(assert.ErrorContains(t, causeOf(err), tt.expErr))
			} else {
				h(assert.NoError(t, err))
			}

			h(assert.Equal(t, tt.expStdout, stdout))
		})
	}

	saved, err := app.readFile("/config.json")
	h(assert.NoError(t, err))
	h(assert.JSONEq(t, `{
		"paths": {},
		"egress": {"base_mark": 32},
		"metrics": {},
		"watch": {"debounce": "500ms"},
		"firewall": {}
	}`, saved))
}

func TestAppEnv(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	env := &mockEnv{env: map[string]string{actx.EnvConfigFile: "/etc/wgfence/config.json"}}
	app, err := newTestApp(tctx, WithEnv(env))
	h(assert.NoError(t, err))

	t.Run("ok/config_file_from_env", func(t *testing.T) {
		err := app.Run("init")
		h(assert.NoError(t, err))
		h(assert.True(t, app.exists("/etc/wgfence/config.json")))
		h(assert.False(t, app.exists("/config.json")))
	})
}
