// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"actionloop/daemon/models"
)

const (
	defaultDaemonURL = "http://localhost:8080"
	version          = "0.1.0"
)

func main() {
	daemonURL := flag.String("daemon", defaultDaemonURL, "Daemon URL")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	jsonOut := flag.Bool("json", false, "Print raw JSON instead of a table")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("loopctl version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		showBanner()
		printUsage()
		os.Exit(1)
	}

	client := &daemonClient{baseURL: strings.TrimSuffix(*daemonURL, "/")}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "submit":
		err = runSubmit(client, rest, *jsonOut)
	case "query", "list":
		err = runQuery(client, rest, *jsonOut)
	case "get":
		err = runGet(client, rest, *jsonOut)
	case "cancel":
		err = runCancel(client, rest)
	case "pause":
		err = runPause(client)
	case "resume":
		err = runResume(client)
	case "status":
		err = runStatus(client, *jsonOut)
	case "help", "-h", "--help":
		showBanner()
		printUsage()
		return
	default:
		pterm.Error.Printfln("unknown command %q", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
}

func showBanner() {
	orange := pterm.NewStyle(pterm.FgLightRed)
	amber := pterm.NewStyle(pterm.FgYellow)

	pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("LOOP", orange),
		pterm.NewLettersFromStringWithStyle("CTL", amber),
	).Render()

	pterm.DefaultCenter.WithCenterEachLineSeparately().Println(
		pterm.LightYellow("Bounded-concurrency action scheduler control CLI\n") +
			pterm.Gray("Version "+version),
	)
}

func printUsage() {
	pterm.DefaultSection.Println("Commands")
	pterm.DefaultTable.WithData([][]string{
		{"submit", "-kind K [-name N] [-priority] [-force-start] [-param k=v ...]"},
		{"query", "[-status s1,s2] [-limit N]"},
		{"get", "<action-id>"},
		{"cancel", "<action-id> [action-id ...]"},
		{"pause", "pause queue admission"},
		{"resume", "resume queue admission"},
		{"status", "show daemon status"},
	}).Render()
}

// daemonClient is a thin HTTP client over the daemon's REST surface.
type daemonClient struct {
	baseURL string
	http    http.Client
}

func (c *daemonClient) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *daemonClient) post(path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runSubmit(c *daemonClient, args []string, jsonOut bool) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	kind := fs.String("kind", "", "Action kind (required)")
	name := fs.String("name", "", "Action display name")
	priority := fs.Bool("priority", false, "Insert at the front of the queue")
	forceStart := fs.Bool("force-start", false, "Bypass the concurrency cap and pause gate")
	var params paramFlags
	fs.Var(&params, "param", "Handler parameter key=value, repeatable")
	fs.Parse(args)

	if *kind == "" {
		return fmt.Errorf("submit requires -kind")
	}

	def := models.ActionDefinition{
		Name:       *name,
		Kind:       *kind,
		Params:     params.toMap(),
		Priority:   *priority,
		ForceStart: *forceStart,
	}

	var resp models.SubmitResponse
	if err := c.post("/actions/submit", def, &resp); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(resp)
	}
	for _, id := range resp.ActionIDs {
		pterm.Success.Printfln("submitted action %s", id)
	}
	for _, e := range resp.Errors {
		pterm.Error.Println(e)
	}
	return nil
}

// paramFlags accumulates repeated -param key=value flags into a map.
type paramFlags []string

func (p *paramFlags) String() string { return strings.Join(*p, ",") }
func (p *paramFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}
func (p *paramFlags) toMap() map[string]interface{} {
	if len(*p) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(*p))
	for _, kv := range *p {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}

func runQuery(c *daemonClient, args []string, jsonOut bool) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	status := fs.String("status", "", "Comma-separated status filter")
	limit := fs.Int("limit", 0, "Maximum records to return")
	fs.Parse(args)

	req := models.QueryRequest{All: true, Limit: *limit}
	if *status != "" {
		for _, s := range strings.Split(*status, ",") {
			req.Status = append(req.Status, models.ActionStatus(strings.TrimSpace(s)))
		}
	}

	var resp models.QueryResponse
	if err := c.post("/actions/query", req, &resp); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(resp)
	}

	rows := [][]string{{"ID", "Name", "Kind", "Status", "Updated"}}
	for _, a := range resp.Actions {
		rows = append(rows, []string{
			a.Definition.ID, a.Definition.Name, a.Definition.Kind,
			string(a.Status), a.UpdatedAt.Format(time.RFC3339),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func runGet(c *daemonClient, args []string, jsonOut bool) error {
	if len(args) != 1 {
		return fmt.Errorf("get requires exactly one action id")
	}

	var rec models.ActionRecord
	if err := c.get("/actions/"+args[0], &rec); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(rec)
	}
	pterm.DefaultTable.WithData([][]string{
		{"ID", rec.Definition.ID},
		{"Name", rec.Definition.Name},
		{"Kind", rec.Definition.Kind},
		{"Status", string(rec.Status)},
		{"Error", rec.Error},
		{"Updated", rec.UpdatedAt.Format(time.RFC3339)},
	}).Render()
	return nil
}

func runCancel(c *daemonClient, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("cancel requires at least one action id")
	}

	var resp models.CancelResponse
	if err := c.post("/actions/cancel", models.CancelRequest{ActionIDs: args}, &resp); err != nil {
		return err
	}

	for _, id := range resp.Cancelled {
		pterm.Success.Printfln("cancelled %s", id)
	}
	for id, msg := range resp.Errors {
		pterm.Error.Printfln("%s: %s", id, msg)
	}
	return nil
}

func runPause(c *daemonClient) error {
	if err := c.post("/actions/pause", nil, nil); err != nil {
		return err
	}
	pterm.Success.Println("scheduler paused")
	return nil
}

func runResume(c *daemonClient) error {
	if err := c.post("/actions/resume", nil, nil); err != nil {
		return err
	}
	pterm.Success.Println("scheduler resumed")
	return nil
}

func runStatus(c *daemonClient, jsonOut bool) error {
	var status models.DaemonStatus
	if err := c.get("/status", &status); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(status)
	}
	pterm.DefaultTable.WithData([][]string{
		{"Version", status.Version},
		{"Uptime", status.Uptime},
		{"Queue length", strconv.Itoa(status.QueueLength)},
		{"Running", strconv.Itoa(status.RunningActions)},
		{"Sleeping", strconv.Itoa(status.SleepingActions)},
		{"Paused", strconv.FormatBool(status.Paused)},
		{"Completed", strconv.Itoa(status.CompletedTotal)},
		{"Failed", strconv.Itoa(status.FailedTotal)},
	}).Render()
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
