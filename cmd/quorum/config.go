package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	daemonAddr  string
	insecure    bool
	certificate string

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "show how the CLI reaches the daemon",
		Long: "this command prints the connection settings stored in " +
			"the CLI state file",
		RunE: func(_ *cobra.Command, _ []string) error {
			state, err := getState()
			if err != nil {
				return err
			}
			buf, err := json.Marshal(state)
			if err != nil {
				return err
			}
			printJSON(buf)
			return nil
		},
	}
	configSetCmd = &cobra.Command{
		Use:   "set <entry> <value>",
		Short: "change one connection setting",
		Long: "entries are rpcserver (host:port of quorumd), no_tls and " +
			"tls_cert_path. Toggling TLS keeps the certificate entry consistent",
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			entries, err := normalizeEntry(args[0], args[1])
			if err != nil {
				return err
			}
			if err := setState(entries); err != nil {
				return err
			}
			fmt.Printf("%s updated\n", args[0])
			return nil
		},
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "configure the connection with the daemon at once",
		RunE:  configInit,
	}
	configResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "restore the default connection settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := writeState(initialState()); err != nil {
				return err
			}
			fmt.Println("connection settings restored")
			return nil
		},
	}
)

func init() {
	defaults := initialState()
	configInitCmd.Flags().StringVar(
		&daemonAddr, "rpcserver", defaults["rpcserver"], "host:port of quorumd",
	)
	configInitCmd.Flags().BoolVar(
		&insecure, "no-tls", false, "connect with plain ws, quorumd runs with TLS disabled",
	)
	configInitCmd.Flags().StringVar(
		&certificate, "tls-cert-path", defaults["tls_cert_path"],
		"certificate generated by quorumd, used to verify the wss connection",
	)
	configCmd.AddCommand(configSetCmd, configInitCmd, configResetCmd)
}

func configInit(_ *cobra.Command, _ []string) error {
	entries := map[string]string{}
	for _, kv := range [][2]string{
		{"rpcserver", daemonAddr},
		{"no_tls", strconv.FormatBool(insecure)},
	} {
		normalized, err := normalizeEntry(kv[0], kv[1])
		if err != nil {
			return err
		}
		for k, v := range normalized {
			entries[k] = v
		}
	}
	if !insecure {
		normalized, err := normalizeEntry("tls_cert_path", certificate)
		if err != nil {
			return err
		}
		entries["tls_cert_path"] = normalized["tls_cert_path"]
	}

	if err := setState(entries); err != nil {
		return err
	}
	fmt.Printf("CLI connects to %s\n", entries["rpcserver"])
	return nil
}

// normalizeEntry validates the value of a state entry and returns every
// entry that must change with it.
func normalizeEntry(key, value string) (map[string]string, error) {
	switch key {
	case "rpcserver":
		if _, _, err := net.SplitHostPort(value); err != nil {
			return nil, fmt.Errorf("invalid rpcserver %q: %s", value, err)
		}
		return map[string]string{key: value}, nil
	case "no_tls":
		off, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("no_tls must be a boolean")
		}
		certPath := initialState()["tls_cert_path"]
		if off {
			certPath = ""
		}
		return map[string]string{
			key: strconv.FormatBool(off), "tls_cert_path": certPath,
		}, nil
	case "tls_cert_path":
		if value == "" {
			return map[string]string{key: "", "no_tls": "true"}, nil
		}
		certPath := cleanAndExpandPath(value)
		if _, err := os.Stat(certPath); err != nil {
			return nil, fmt.Errorf("tls certificate not readable: %s", err)
		}
		return map[string]string{key: certPath, "no_tls": "false"}, nil
	default:
		return nil, fmt.Errorf("unknown config entry %s", key)
	}
}
