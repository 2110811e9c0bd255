package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/cfdp/internal/api"
	jsoniter "github.com/json-iterator/go"
	"github.com/logrusorgru/aurora"
	"github.com/urfave/cli"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiClient drives a running daemon over its HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(c *cli.Context) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(c.String("api"), "/"),
		token: c.String("token"),
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func transferPath(id string) string {
	return "/transfers/" + url.PathEscape(id)
}

func runPut(c *cli.Context) error {
	file := c.String("file")
	if file == "" {
		var err error
		if file, err = requireArg(c, "FILE"); err != nil {
			return err
		}
	}
	payload, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = []byte{}
	}
	target := c.String("target")
	if target == "" {
		target = filepath.Base(file)
	}
	req := api.PutRequest{
		Destination: c.Uint64("dest"),
		SourceFile:  file,
		TargetPath:  target,
		Payload:     payload,
		Overwrite:   c.Bool("overwrite"),
		CreatePath:  c.Bool("create-path"),
		Mode:        c.String("mode"),
		Messages:    c.StringSlice("message"),
	}
	var resp api.PutResponse
	if err := newAPIClient(c).do(http.MethodPost, "/transfers", req, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, resp.ID)
	return nil
}

func runList(c *cli.Context) error {
	path := "/transfers"
	if c.Bool("ongoing") {
		path += "?ongoing=true"
	}
	var resp struct {
		Transfers []api.Transfer `json:"transfers"`
	}
	if err := newAPIClient(c).do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	au := aurora.NewAurora(isTerminal(c.App.Writer))
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tMODE\tSTATE\tCONDITION\tPROGRESS\tPATH")
	for _, t := range resp.Transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			t.ID, t.Role, t.Mode, stateColor(au, t.State), t.Condition, t.Progress, t.FileSize, t.DestinationPath)
	}
	return w.Flush()
}

func runGet(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}
	var t api.Transfer
	if err := newAPIClient(c).do(http.MethodGet, transferPath(id), nil, &t); err != nil {
		return err
	}
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func runCancel(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}
	if err := newAPIClient(c).do(http.MethodPost, transferPath(id)+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cancel requested %s\n", id)
	return nil
}

func runPurge(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}
	if err := newAPIClient(c).do(http.MethodDelete, transferPath(id), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "purged %s\n", id)
	return nil
}

func stateColor(au aurora.Aurora, state string) aurora.Value {
	switch state {
	case "finished":
		return au.Green(state)
	case "canceled":
		return au.Red(state)
	default:
		return au.Yellow(state)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
