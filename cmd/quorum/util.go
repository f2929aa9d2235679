package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	ws_interface "github.com/vulpemventures/quorum/internal/interfaces/ws"
)

const wsPath = "/v1/ws"

var colorRed = string("\033[31m")

// reply is either the response to a request or a notification.
type reply struct {
	ID     string                 `json:"id"`
	Topic  string                 `json:"topic"`
	Result json.RawMessage        `json:"result"`
	Error  *ws_interface.ErrorMsg `json:"error"`
}

type client struct {
	ws *websocket.Conn
}

func getClient() (*client, func(), error) {
	state, err := getState()
	if err != nil {
		return nil, nil, err
	}
	address, ok := state["rpcserver"]
	if !ok {
		return nil, nil, fmt.Errorf("set rpcserver with `config set rpcserver`")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	scheme := "ws"

	noTLS, _ := strconv.ParseBool(state["no_tls"])
	if !noTLS {
		certPath, ok := state["tls_cert_path"]
		if !ok || certPath == "" {
			return nil, nil, fmt.Errorf(
				"missing TLS certificate filepath. Try " +
					"'quorum config set tls_cert_path path/to/tls/certificate'",
			)
		}
		cert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load TLS certificate: %s", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cert) {
			return nil, nil, fmt.Errorf("invalid TLS certificate %s", certPath)
		}
		dialer.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: address, Path: wsPath}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to quorum daemon: %v", err)
	}

	cleanup := func() {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	return &client{conn}, cleanup, nil
}

// call sends the request and waits for its response. Notifications received
// in the meantime are discarded.
func (c *client) call(method string, params interface{}) (json.RawMessage, error) {
	req := ws_interface.Request{ID: uuid.New().String(), Method: method}
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = buf
	}
	if err := c.ws.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %s", err)
	}

	for {
		var r reply
		if err := c.ws.ReadJSON(&r); err != nil {
			return nil, fmt.Errorf("failed to read response: %s", err)
		}
		if r.ID != req.ID {
			continue
		}
		if r.Error != nil {
			return nil, r.Error
		}
		return r.Result, nil
	}
}

// watch subscribes to the given topics and prints every notification until
// interrupted.
func (c *client) watch(topics []string) error {
	if _, err := c.call(
		ws_interface.MethodSubscribe, ws_interface.SubscribeParams{Topics: topics},
	); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		c.ws.Close()
	}()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil
		}
		var r reply
		if err := json.Unmarshal(msg, &r); err != nil || r.Topic == "" {
			continue
		}
		printJSON(msg)
	}
}

// request is the shorthand for commands made of a single call whose result
// is printed.
func request(method string, params interface{}) error {
	client, cleanup, err := getClient()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := client.call(method, params)
	if err != nil {
		printErr(err)
		return nil
	}
	printJSON(result)
	return nil
}

func getState() (map[string]string, error) {
	file, err := os.ReadFile(statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := writeState(initialState()); err != nil {
			return nil, err
		}
		return initialState(), nil
	}

	data := map[string]string{}
	json.Unmarshal(file, &data)
	return data, nil
}

func setState(partialState map[string]string) error {
	state, err := getState()
	if err != nil {
		return err
	}

	for key, value := range partialState {
		state[key] = value
	}
	return writeState(state)
}

func writeState(state map[string]string) error {
	dir := filepath.Dir(statePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}

	buf, _ := json.MarshalIndent(state, "", "  ")
	if err := os.WriteFile(statePath, buf, 0644); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}

	return nil
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func printJSON(buf []byte) {
	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "  "); err != nil {
		fmt.Println(string(buf))
		return
	}
	fmt.Println(out.String())
}

func printErr(err error) {
	msg := fmt.Sprintf("%s%s", colorRed, capitalize(err.Error()))
	fmt.Fprintln(os.Stderr, msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	ss := strings.ToUpper(s[0:1])
	ss += s[1:]
	return ss
}

func formatVersion() string {
	return fmt.Sprintf(
		"\nVersion: %s\nCommit: %s\nDate: %s", version, commit, date,
	)
}
